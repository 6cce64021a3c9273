package transfer

import (
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	diag := newHarness(t, "diagnostics", &sourceStrategy{data: pattern(10)})
	ota := newHarness(t, "ota", &sourceStrategy{})

	r := NewRegistry()
	if err := r.Register(SubsystemDiagnostics, diag.driver); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(SubsystemOTA, ota.driver); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(SubsystemOTA, ota.driver); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("second Register() error = %v", err)
	}
	if r.Driver(SubsystemOTA) != ota.driver {
		t.Error("Driver() returned the wrong driver")
	}

	startSend(t, diag)
	if !r.IsBusy(SubsystemDiagnostics) || r.IsBusy(SubsystemOTA) {
		t.Error("busy state not per subsystem")
	}

	r.Shutdown()
	diag.exec.Drain()
	ota.exec.Drain()
	if r.IsBusy(SubsystemDiagnostics) {
		t.Error("Shutdown left a session running")
	}
	if ends := diag.strategy.ends; len(ends) != 1 || !errors.Is(ends[0], ErrShutdown) {
		t.Errorf("diagnostics ends = %v", ends)
	}
	if len(ota.strategy.ends) != 0 {
		t.Error("Shutdown ended an idle driver's session")
	}
}

func TestSubsystemString(t *testing.T) {
	if SubsystemDiagnostics.String() != "diagnostics" || SubsystemOTA.String() != "ota" {
		t.Error("unexpected subsystem names")
	}
	if Subsystem(9).String() != "Subsystem(9)" {
		t.Errorf("unknown subsystem = %q", Subsystem(9).String())
	}
}
