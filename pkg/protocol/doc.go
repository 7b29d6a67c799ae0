/*
Package protocol defines the message envelope exchanged with the runtime.

Messages are JSON objects tagged by "type". Client events (ClientEvent) are
built by the caller and flattened on the wire; server events decode into the
closed ServerEvent union. Anything with an unrecognized tag decodes to Unknown
so the dispatcher can report it without stopping.
*/
package protocol
