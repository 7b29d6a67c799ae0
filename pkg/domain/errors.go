package domain

import "errors"

// ErrNotConnected is returned by Send when no transport is open. Sending while
// disconnected is a caller bug; the event is neither queued nor retried.
var ErrNotConnected = errors.New("not connected")

// ErrInvalidTransition is returned when a connection state change is not in the transition table.
var ErrInvalidTransition = errors.New("invalid connection state transition")

// ErrClosed is returned when operating on a manager or coordinator that has been closed.
var ErrClosed = errors.New("client closed")

// ErrMalformedMessage is returned when a server message cannot be decoded.
var ErrMalformedMessage = errors.New("malformed message")

// ErrSnapshotNotFound is returned when no mirrored snapshot exists for a project.
var ErrSnapshotNotFound = errors.New("snapshot not found")
