package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/tether/pkg/protocol"
)

// MaxPayloadSize bounds a payload given on the command line.
const MaxPayloadSize = 64 << 10

var ErrPayloadTooLarge = errors.New("payload exceeds maximum allowed size")

// ParsePayload decodes a JSON object given on the command line. Empty means
// no payload.
func ParsePayload(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	if len(raw) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: size=%d limit=%d", ErrPayloadTooLarge, len(raw), MaxPayloadSize)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return payload, nil
}

// RunSend connects, waits for the runtime and sends one control event.
func RunSend(ctx context.Context, opts Options, kindName string, payload map[string]any) error {
	kind, err := protocol.ParseClientKind(kindName)
	if err != nil {
		return err
	}

	logger, err := createLogger(opts.Config.LogLevel, opts.Debug)
	if err != nil {
		return err
	}

	client, h, err := connectOnce(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := h.Send(ctx, protocol.NewClientEvent(kind, payload)); err != nil {
		return fmt.Errorf("failed to send %s: %w", kind, err)
	}
	if !opts.JSON {
		printSystemMessage(opts.out(), "Sent '%s' to '%s'.", kind, h.Project())
	}
	return nil
}
