// Package middleware provides HTTP middleware for request identity and rate limiting.
//
// # Overview
//
// Authentication happens upstream. The identity provider in front of warden
// sets the X-Warden-User-ID header, which IdentityMiddleware trusts and
// stores in the request context for the authorization engine, the audit
// trail and the logs.
//
// # Middleware Components
//
// RequestID: propagates X-Request-ID or assigns a UUID
//
//	router.Use(middleware.RequestID)
//
// IdentityMiddleware: acting user from X-Warden-User-ID
//
//	router.Use(middleware.NewIdentityMiddleware(false).Handler)
//
// RequestLogger: request scoped logger for observability.FromContext
//
//	router.Use(middleware.RequestLogger(logger))
//
// RateLimitMiddleware: per-user or per-IP limits over a Limiter
//
//	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerWindow: 1000, WindowDuration: time.Minute})
//	router.Use(middleware.NewRateLimitMiddleware(limiter, anonLimiter, logger).Handler)
//
// # Rate Limiting
//
// RateLimiter is an in-process token bucket. DistributedRateLimiter keeps a
// fixed window counter in Redis so replicas share one allowance. Defaults
// are 1000 requests per minute with a burst of 50 for identified users and
// 100 per minute by client IP otherwise. Limiter errors allow the request
// unless fail-open is disabled.
//
// # Related Packages
//
//   - pkg/rbac: RequirePermission gates routes on the acting user
//   - pkg/observability: context helpers for request id, user id and logger
package middleware
