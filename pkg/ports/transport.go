package ports

import "context"

// Dialer opens the persistent duplex connection to the runtime.
type Dialer interface {
	// Dial blocks until the transport is open or has failed. There is no
	// protocol timeout on dialing; ctx cancellation is the only way to abort.
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Conn is one open transport. ReadMessage is called from a single reader
// goroutine and WriteMessage from a single writer, possibly concurrently with
// each other. Close unblocks a pending ReadMessage.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}
