package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultMaxFileSize  = 100 << 20
	defaultMaxFileCount = 10
	activeFileName      = "audit.log"
)

var errFileLoggerClosed = errors.New("audit file logger is closed")

// FileLoggerConfig configures a FileLogger.
type FileLoggerConfig struct {
	// BasePath is the directory holding audit.log and its rotated segments.
	BasePath string
	Rotate   bool
	// MaxSize is the segment size in bytes that triggers rotation.
	MaxSize int64
	// MaxFiles is how many rotated segments (audit.log.1 ... audit.log.N) are kept.
	MaxFiles int
}

// DefaultFileLoggerConfig rotates at 100MB and keeps ten segments.
func DefaultFileLoggerConfig() FileLoggerConfig {
	return FileLoggerConfig{
		BasePath: "/var/log/warden/audit",
		Rotate:   true,
		MaxSize:  defaultMaxFileSize,
		MaxFiles: defaultMaxFileCount,
	}
}

// FileLogger appends audit events to audit.log as JSON lines. When rotation
// is enabled a full segment is shifted to audit.log.1, older segments move
// up by one and the oldest beyond MaxFiles is dropped.
type FileLogger struct {
	cfg FileLoggerConfig

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewFileLogger opens (or creates) the active segment under cfg.BasePath.
func NewFileLogger(cfg FileLoggerConfig) (*FileLogger, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxFileSize
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = defaultMaxFileCount
	}
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	l := &FileLogger{cfg: cfg}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) path(segment int) string {
	name := activeFileName
	if segment > 0 {
		name = fmt.Sprintf("%s.%d", activeFileName, segment)
	}
	return filepath.Join(l.cfg.BasePath, name)
}

func (l *FileLogger) open() error {
	file, err := os.OpenFile(l.path(0), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}
	l.file, l.size = file, info.Size()
	return nil
}

// rotate closes the active segment and shifts every segment up by one.
// Must be called with l.mu held.
func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log file: %w", err)
	}
	l.file = nil

	if err := os.Remove(l.path(l.cfg.MaxFiles)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to drop oldest audit log: %w", err)
	}
	for seg := l.cfg.MaxFiles - 1; seg >= 0; seg-- {
		if err := os.Rename(l.path(seg), l.path(seg+1)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to rotate audit log: %w", err)
		}
	}
	return l.open()
}

// Log appends event to the active segment, rotating first when it is full.
func (l *FileLogger) Log(ctx context.Context, event *AuditEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errFileLoggerClosed
	}
	if l.cfg.Rotate && l.size > 0 && l.size+int64(len(line)) > l.cfg.MaxSize {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	n, err := l.file.Write(line)
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Close closes the active segment. Later calls to Log fail.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadLogs decodes up to count events from the active segment, or all of
// them when count <= 0.
func (l *FileLogger) ReadLogs(count int) ([]*AuditEvent, error) {
	file, err := os.Open(l.path(0))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []*AuditEvent
	dec := json.NewDecoder(file)
	for count <= 0 || len(events) < count {
		event := new(AuditEvent)
		if err := dec.Decode(event); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}
