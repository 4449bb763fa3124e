package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	logger, err := NewFileLogger(FileLoggerConfig{BasePath: dir})
	require.NoError(t, err)

	for i := int64(1); i <= 3; i++ {
		event := NewEvent(ctx, EventTypeRoleAssigned, EventStatusSuccess)
		event.TargetUserID = Int64(i)
		require.NoError(t, logger.Log(ctx, event))
	}

	events, err := logger.ReadLogs(0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), *events[2].TargetUserID)

	events, err = logger.ReadLogs(2)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	require.NoError(t, logger.Close())
	assert.ErrorIs(t, logger.Log(ctx, NewEvent(ctx, EventTypeRoleAssigned, EventStatusSuccess)), errFileLoggerClosed)
}

func TestFileLoggerReopenAppends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for i := 0; i < 2; i++ {
		logger, err := NewFileLogger(FileLoggerConfig{BasePath: dir})
		require.NoError(t, err)
		require.NoError(t, logger.Log(ctx, NewEvent(ctx, EventTypeProjectCreated, EventStatusSuccess)))
		require.NoError(t, logger.Close())
	}

	logger, err := NewFileLogger(FileLoggerConfig{BasePath: dir})
	require.NoError(t, err)
	defer logger.Close()
	events, err := logger.ReadLogs(0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestFileLoggerRotation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	logger, err := NewFileLogger(FileLoggerConfig{BasePath: dir, Rotate: true, MaxSize: 64, MaxFiles: 2})
	require.NoError(t, err)
	defer logger.Close()

	for i := 0; i < 6; i++ {
		event := NewEvent(ctx, EventTypeFeatureToggled, EventStatusSuccess)
		event.Message = "boards enabled in workspace"
		require.NoError(t, logger.Log(ctx, event))
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "audit.log.*"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "audit.log.1"),
		filepath.Join(dir, "audit.log.2"),
	}, rotated)

	// every event is larger than MaxSize, so each segment holds exactly one
	events, err := logger.ReadLogs(0)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = os.Stat(filepath.Join(dir, "audit.log.3"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
