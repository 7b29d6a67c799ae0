/*
Package link owns the physical connection to the runtime.

A Manager runs one goroutine that serializes everything touching the
connection: caller commands (Connect, Disconnect, Send, Attach, Detach),
transport events from the dial and reader goroutines, and timer callbacks.
Each of those is a typed event on a single inbox, handled to completion before
the next one.

Two timers drive recovery. Liveness probes the runtime with is_alive and demotes
the connection when no answer arrives in time; Reconnector redials after the
transport is lost. Timer events carry a token (timer sequence and attachment
fence) and are ignored once stale, so a superseded timer can never act.
*/
package link
