// Package webhook exposes the HTTP push endpoint.
//
// Routes:
//
//	GET  /                health check
//	GET  /webhook/upload  readiness probe
//	POST /webhook/upload  upload notification (identifier, filename, row_number)
//	POST /webhook/test    echo
//	GET  /webhook/status  readiness plus lifetime statistics
//
// Accepted notifications are handed to a dispatcher and answered with 202
// before any processing happens. When webhook.enable_auth is set, POST bodies
// must carry a hex HMAC-SHA256 of the raw body in X-Webhook-Signature.
package webhook
