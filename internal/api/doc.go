// Package api exposes the wallet orchestrator over HTTP: status, connect,
// disconnect and user info endpoints, the account view of the current
// session, recent lifecycle records with a WebSocket stream, and the
// Prometheus /metrics endpoint.
package api
