// Package api holds the request and response types of the pyhost HTTP API.
//
// # API Overview
//
// pyhost exposes a JSON API for:
//   - Session registration, listing and cleanup
//   - Code, command, variable, batch and interactive executions
//   - Streaming executions and generators over WebSocket
//   - Environment and module management
//   - Runtime configuration (redacted view, reload, change log)
//   - Health and readiness probes
//
// Every JSON response uses the envelope
//
//	{"success": bool, "data": ..., "error": {"code", "message", "retryable"}, "timestamp": ...}
//
// # Authentication
//
// When auth is enabled, requests carry either an API key
//
//	X-API-Key: your-api-key
//
// or a bearer token signed with the configured JWT secret. Health
// endpoints are never authenticated.
//
// # Base URL
//
//	http://localhost:8080/api/v1
package api
