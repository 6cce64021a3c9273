package transfer

import (
	"errors"
	"testing"
)

func TestPendingResponseSingleUse(t *testing.T) {
	var got []Outcome
	p := NewPendingResponse(func(o Outcome) { got = append(got, o) })

	if !p.Held() {
		t.Fatal("new response not held")
	}
	if err := p.Respond(OutcomeSuccess); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if p.Held() {
		t.Error("response still held after Respond")
	}
	if err := p.Respond(OutcomeDenied); !errors.Is(err, ErrResponseConsumed) {
		t.Errorf("second Respond() error = %v", err)
	}
	if len(got) != 1 || got[0] != OutcomeSuccess {
		t.Errorf("responses = %v, want [Success]", got)
	}
}

func TestNilPendingResponse(t *testing.T) {
	var p *PendingResponse
	if p.Held() {
		t.Error("nil response held")
	}
	if err := p.Respond(OutcomeSuccess); !errors.Is(err, ErrResponseConsumed) {
		t.Errorf("Respond() on nil error = %v", err)
	}
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		o    Outcome
		want string
	}{
		{OutcomeSuccess, "Success"},
		{OutcomeDenied, "Denied"},
		{OutcomeBusy, "Busy"},
		{OutcomeNoLogs, "NoLogs"},
		{OutcomeExhausted, "Exhausted"},
		{Outcome(42), "Unknown"},
	}
	for _, tc := range tests {
		if got := tc.o.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", tc.o, got, tc.want)
		}
	}
}
