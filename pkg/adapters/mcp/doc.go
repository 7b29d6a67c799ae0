// Package mcp exposes a session as a Model Context Protocol server: tools to
// read the connection and execution state and to send control events, and a
// resource with the current snapshot.
package mcp
