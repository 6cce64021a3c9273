package clusters

import (
	"context"
	"sync"

	"github.com/backkem/matter-bdx/pkg/datamodel"
)

// Answer is one answer captured by a ResponseRecorder.
type Answer struct {
	Path datamodel.ConcreteCommandPath

	// Data is the encoded response command, nil for status answers.
	Data []byte

	// Status is the status answer. Response commands record Success.
	Status datamodel.Status

	// IsResponse distinguishes response commands from status answers.
	IsResponse bool
}

// ResponseRecorder is a ResponseSink that stores answers in memory. It
// stands in for the interaction layer in tests and in-process simulations.
type ResponseRecorder struct {
	mu      sync.Mutex
	answers []Answer
	first   chan struct{}
}

// NewResponseRecorder returns an empty recorder.
func NewResponseRecorder() *ResponseRecorder {
	return &ResponseRecorder{first: make(chan struct{})}
}

// AddResponse implements ResponseSink.
func (r *ResponseRecorder) AddResponse(path datamodel.ConcreteCommandPath, data []byte) error {
	r.record(Answer{Path: path, Data: data, IsResponse: true})
	return nil
}

// AddStatus implements ResponseSink.
func (r *ResponseRecorder) AddStatus(path datamodel.ConcreteCommandPath, status datamodel.Status) error {
	r.record(Answer{Path: path, Status: status})
	return nil
}

func (r *ResponseRecorder) record(a Answer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, a)
	if len(r.answers) == 1 {
		close(r.first)
	}
}

// Answers returns every answer recorded so far.
func (r *ResponseRecorder) Answers() []Answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Answer(nil), r.answers...)
}

// Wait blocks until the first answer is recorded or ctx is done.
func (r *ResponseRecorder) Wait(ctx context.Context) (Answer, error) {
	select {
	case <-r.first:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.answers[0], nil
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	}
}
