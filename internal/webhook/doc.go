// Package webhook implements the HTTP ingress: signature-verified
// tracker webhooks, payload validation, deduplication against the
// Session Manager's live set, and the admission policy that decides
// whether an issue runs immediately or waits for manual execution.
//
// Structure:
//   - handler.go    — Handler with DI (session manager, dispatcher, health monitor, worktree manager, logger)
//   - routes.go     — route registration
//   - middleware.go — logging, recovery, rate limiting
//   - response.go    — unified JSON responses and error mapping
//   - signature.go  — HMAC-SHA256 signature verification
//   - dto.go        — webhook payload shape
package webhook
