package clusters

import (
	"errors"
	"fmt"
	"sync"

	"github.com/backkem/matter-bdx/pkg/datamodel"
)

// ErrHandleConsumed is returned when a CommandHandle is answered twice.
var ErrHandleConsumed = errors.New("clusters: command handle already consumed")

// ResponseSink receives the answer to one invoke. The interaction layer that
// owns the invoke exchange implements it.
type ResponseSink interface {
	// AddResponse delivers an encoded response command addressed to path.
	AddResponse(path datamodel.ConcreteCommandPath, data []byte) error

	// AddStatus delivers a status-only answer for the request at path.
	AddStatus(path datamodel.ConcreteCommandPath, status datamodel.Status) error
}

// CommandHandle is a single-use ticket for answering one invoke. A cluster
// may answer before InvokeCommand returns, or keep the handle and answer
// later from any goroutine. Exactly one AddResponse or AddStatus succeeds;
// later calls fail with ErrHandleConsumed.
type CommandHandle struct {
	path datamodel.ConcreteCommandPath

	mu   sync.Mutex
	sink ResponseSink
}

// NewCommandHandle creates a handle answering the request at path into sink.
func NewCommandHandle(path datamodel.ConcreteCommandPath, sink ResponseSink) *CommandHandle {
	return &CommandHandle{path: path, sink: sink}
}

// Path returns the request path the handle answers.
func (h *CommandHandle) Path() datamodel.ConcreteCommandPath {
	return h.path
}

// Held reports whether the handle has not been answered yet.
func (h *CommandHandle) Held() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sink != nil
}

func (h *CommandHandle) take() ResponseSink {
	h.mu.Lock()
	defer h.mu.Unlock()
	sink := h.sink
	h.sink = nil
	return sink
}

// AddResponse answers the request at path with resp. The response is
// addressed to path with the command replaced by resp.CommandID(). If resp
// cannot be encoded the request is answered with Failure instead.
func (h *CommandHandle) AddResponse(path datamodel.ConcreteCommandPath, resp Response) error {
	sink := h.take()
	if sink == nil {
		return ErrHandleConsumed
	}
	data, err := EncodeResponse(resp)
	if err != nil {
		sink.AddStatus(path, datamodel.StatusFailure)
		return fmt.Errorf("clusters: encode response: %w", err)
	}
	return sink.AddResponse(path.WithCommand(resp.CommandID()), data)
}

// AddStatus answers the request at path with a status.
func (h *CommandHandle) AddStatus(path datamodel.ConcreteCommandPath, status datamodel.Status) error {
	sink := h.take()
	if sink == nil {
		return ErrHandleConsumed
	}
	return sink.AddStatus(path, status)
}
