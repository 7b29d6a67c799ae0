package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunConnContract verifies that a transport adapter honours the Dialer / Conn
// contract. endpoint must reach a peer that echoes every message back.
func RunConnContract(t *testing.T, dialer Dialer, endpoint string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("Echo", func(t *testing.T) {
		conn, err := dialer.Dial(ctx, endpoint)
		require.NoError(t, err, "Dial should not return error")
		defer conn.Close()

		for _, msg := range []string{`{"type":"is_alive"}`, `{"type":"start_execution","until_node_id":"n1"}`} {
			require.NoError(t, conn.WriteMessage([]byte(msg)))
			got, err := conn.ReadMessage()
			require.NoError(t, err)
			assert.JSONEq(t, msg, string(got))
		}
	})

	t.Run("Close unblocks reader", func(t *testing.T) {
		conn, err := dialer.Dial(ctx, endpoint)
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := conn.ReadMessage()
			done <- err
		}()

		require.NoError(t, conn.Close())
		select {
		case err := <-done:
			assert.Error(t, err, "ReadMessage after Close should fail")
		case <-time.After(2 * time.Second):
			t.Fatal("ReadMessage still blocked after Close")
		}
	})

	t.Run("Write after Close", func(t *testing.T) {
		conn, err := dialer.Dial(ctx, endpoint)
		require.NoError(t, err)
		require.NoError(t, conn.Close())

		assert.Error(t, conn.WriteMessage([]byte(`{"type":"is_alive"}`)))
	})

	t.Run("Cancelled dial", func(t *testing.T) {
		cctx, ccancel := context.WithCancel(context.Background())
		ccancel()

		conn, err := dialer.Dial(cctx, endpoint)
		if err == nil {
			conn.Close()
		}
		assert.Error(t, err, "Dial with a cancelled context should fail")
	})
}
