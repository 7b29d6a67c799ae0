package link

import (
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/protocol"
)

// event is anything the manager loop handles.
type event interface {
	isEvent()
}

// token identifies one arming of a timer. fence is the attachment the timer
// was armed under; only the probe cycle is fenced.
type token struct {
	seq   uint64
	fence uint64
}

type (
	cmdConnect struct {
		reply chan error
	}
	cmdDisconnect struct {
		reply chan struct{}
	}
	cmdSend struct {
		ev    protocol.ClientEvent
		reply chan error
	}
	cmdAttach struct {
		sink  ports.Sink
		reply chan uint64
	}
	cmdDetach struct {
		fence uint64
		reply chan struct{}
	}
	cmdClose struct {
		reply chan struct{}
	}

	// evOpened and evClosed come from the dial and reader goroutines of
	// connection generation gen.
	evOpened struct {
		gen  uint64
		conn ports.Conn
	}
	evClosed struct {
		gen uint64
		err error
	}
	evMessage struct {
		gen  uint64
		data []byte
	}

	evProbeDue struct {
		tok token
	}
	evLivenessTimeout struct {
		tok token
	}
	evReconnect struct {
		seq uint64
	}
	evIntentDue struct {
		id     uint64
		fence  uint64
		intent domain.Intent
	}
)

func (cmdConnect) isEvent()        {}
func (cmdDisconnect) isEvent()     {}
func (cmdSend) isEvent()           {}
func (cmdAttach) isEvent()         {}
func (cmdDetach) isEvent()         {}
func (cmdClose) isEvent()          {}
func (evOpened) isEvent()          {}
func (evClosed) isEvent()          {}
func (evMessage) isEvent()         {}
func (evProbeDue) isEvent()        {}
func (evLivenessTimeout) isEvent() {}
func (evReconnect) isEvent()       {}
func (evIntentDue) isEvent()       {}
