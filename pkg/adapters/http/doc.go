// Package http exposes a session over HTTP with chi: status and snapshot
// reads, a server-sent event stream and a send endpoint for control events.
package http
