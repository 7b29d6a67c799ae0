/*
Package ports defines the interfaces between the protocol client and the
outside world.

# Key Interfaces

  - Dialer / Conn: the physical duplex transport (websocket, in-memory).
  - Sink: where notifications and UI intents go.
  - Session: the read/send surface driving adapters (HTTP, MCP, Redis) use.

RunConnContract is a reusable test suite every transport adapter runs.
*/
package ports
