package device

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/backkem/matter-bdx/internal/config"
	"github.com/backkem/matter-bdx/pkg/clusters/diagnosticlogs"
	"github.com/backkem/matter-bdx/pkg/clusters/otaprovider"
	"github.com/backkem/matter-bdx/pkg/diaglog"
	"github.com/backkem/matter-bdx/pkg/exchange"
	"github.com/backkem/matter-bdx/pkg/ota"
	"github.com/backkem/matter-bdx/pkg/transfer"
	"github.com/prometheus/client_golang/prometheus"
)

func testSettings(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Node.NodeID = 0xDEADBEEF
	cfg.Transfer.PollInterval = 5 * time.Millisecond
	cfg.OTA.ImageDir = t.TempDir()
	cfg.OTA.ApplyDelay = 10 * time.Second
	return cfg
}

func writeImage(t *testing.T, dir, name string, version uint32, size int) []byte {
	t.Helper()
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i * 31)
	}
	image, err := ota.Encode(ota.Header{
		VendorID:              0xFFF1,
		ProductID:             0x8000,
		SoftwareVersion:       version,
		SoftwareVersionString: "2.0.0",
	}, payload)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), image, 0o644); err != nil {
		t.Fatal(err)
	}
	return image
}

func newSimulator(t *testing.T, cfg *config.Config, reg prometheus.Registerer) *Simulator {
	t.Helper()
	sim, err := NewSimulator(SimulatorConfig{Settings: cfg, Registerer: reg})
	if err != nil {
		t.Fatalf("NewSimulator() error = %v", err)
	}
	t.Cleanup(func() { sim.Close() })
	return sim
}

func TestNew_Requirements(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without settings succeeded")
	}
	if _, err := New(Config{Settings: config.Default()}); !errors.Is(err, ErrNoExchanges) {
		t.Errorf("New() without exchanges error = %v, want ErrNoExchanges", err)
	}
}

func TestNew_WithoutImages(t *testing.T) {
	pair, err := exchange.NewTestManagerPair(exchange.TestManagerPairConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer pair.Close()

	d, err := New(Config{Settings: config.Default(), Exchanges: pair.Manager(0)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()
	if d.Catalog() != nil {
		t.Error("catalog opened without an image directory")
	}
	if d.Registry().Driver(transfer.SubsystemDiagnostics) == nil {
		t.Error("diagnostics driver not registered")
	}
	if d.Registry().Driver(transfer.SubsystemOTA) != nil {
		t.Error("OTA driver registered without images")
	}
}

func TestNew_ErrorReleasesStores(t *testing.T) {
	notDir := filepath.Join(t.TempDir(), "image.ota")
	if err := os.WriteFile(notDir, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name     string
		imageDir string
	}{
		{"missing image directory", filepath.Join(t.TempDir(), "missing")},
		{"image directory is a file", notDir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := exchange.NewTestManagerPair(exchange.TestManagerPairConfig{})
			if err != nil {
				t.Fatal(err)
			}
			defer pair.Close()

			cfg := config.Default()
			cfg.Diagnostics.InMemory = false
			cfg.Diagnostics.Path = filepath.Join(t.TempDir(), "logs")
			cfg.OTA.ImageDir = tt.imageDir

			var d *Device
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Fatalf("New() panicked: %v", r)
					}
				}()
				d, err = New(Config{Settings: cfg, Exchanges: pair.Manager(0)})
			}()
			if err == nil || d != nil {
				t.Fatalf("New() = %v, %v; want an error", d, err)
			}

			// The log store opened before the failure was closed again.
			cfg.OTA.ImageDir = ""
			d, err = New(Config{Settings: cfg, Exchanges: pair.Manager(0)})
			if err != nil {
				t.Fatalf("New() after a failed build error = %v", err)
			}
			d.Close()
		})
	}
}

func TestSimulator_RetrieveLogs(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		protocol diagnosticlogs.TransferProtocol
		overBDX  bool
		status   diagnosticlogs.Status
	}{
		{"large over BDX", 4000, diagnosticlogs.ProtocolBDX, true, diagnosticlogs.StatusSuccess},
		{"small falls back inline", 200, diagnosticlogs.ProtocolBDX, false, diagnosticlogs.StatusSuccess},
		{"inline requested", 200, diagnosticlogs.ProtocolResponsePayload, false, diagnosticlogs.StatusSuccess},
		{"inline truncated", 4000, diagnosticlogs.ProtocolResponsePayload, false, diagnosticlogs.StatusExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := newSimulator(t, testSettings(t), nil)
			log := bytes.Repeat([]byte("0123456789"), tt.size/10)
			if err := sim.Device().Logs().Put(diagnosticlogs.IntentEndUserSupport, log, diaglog.Record{}); err != nil {
				t.Fatal(err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			var out bytes.Buffer
			res, err := sim.RetrieveLogs(ctx, diagnosticlogs.IntentEndUserSupport, tt.protocol, "end-user.log", &out)
			if err != nil {
				t.Fatalf("RetrieveLogs() error = %v", err)
			}
			if res.Status != tt.status || res.OverBDX != tt.overBDX {
				t.Errorf("result = %+v", res)
			}
			want := log
			if tt.status == diagnosticlogs.StatusExhausted {
				want = log[:diagnosticlogs.MaxLogContentSize]
			}
			if !bytes.Equal(out.Bytes(), want) {
				t.Errorf("got %d bytes, want %d", out.Len(), len(want))
			}
		})
	}
}

func TestSimulator_RetrieveLogsNone(t *testing.T) {
	sim := newSimulator(t, testSettings(t), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := sim.RetrieveLogs(ctx, diagnosticlogs.IntentCrashLogs, diagnosticlogs.ProtocolBDX, "crash.log", &bytes.Buffer{})
	if err != nil {
		t.Fatalf("RetrieveLogs() error = %v", err)
	}
	if res.Status != diagnosticlogs.StatusNoLogs {
		t.Errorf("Status = %s, want NoLogs", res.Status)
	}
	// The unused receive was torn down, so a second retrieval works.
	if err := sim.Device().Logs().Put(diagnosticlogs.IntentCrashLogs, bytes.Repeat([]byte{1}, 3000), diaglog.Record{}); err != nil {
		t.Fatal(err)
	}
	res, err = sim.RetrieveLogs(ctx, diagnosticlogs.IntentCrashLogs, diagnosticlogs.ProtocolBDX, "crash.log", &bytes.Buffer{})
	if err != nil || !res.OverBDX {
		t.Errorf("second RetrieveLogs() = %+v, %v", res, err)
	}
}

func TestSimulator_Update(t *testing.T) {
	cfg := testSettings(t)
	image := writeImage(t, cfg.OTA.ImageDir, "light-v2.ota", 2, 3000)
	reg := prometheus.NewRegistry()
	sim := newSimulator(t, cfg, reg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out bytes.Buffer
	res, err := sim.Update(ctx, UpdateQuery{VendorID: 0xFFF1, ProductID: 0x8000, SoftwareVersion: 1}, &out)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if res.Version != 2 || res.VersionString != "2.0.0" {
		t.Errorf("offered %d %q", res.Version, res.VersionString)
	}
	if !strings.HasPrefix(res.URI, "bdx://00000000DEADBEEF/") {
		t.Errorf("URI = %q", res.URI)
	}
	if !bytes.Equal(out.Bytes(), image) || res.Bytes != uint64(len(image)) {
		t.Errorf("fetched %d bytes, want %d", out.Len(), len(image))
	}
	if res.Action != otaprovider.ApplyActionProceed || res.Delay != 10*time.Second {
		t.Errorf("apply = %s after %s", res.Action, res.Delay)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		busy, err := sim.Device().Busy(ctx, transfer.SubsystemOTA)
		if err != nil {
			t.Fatal(err)
		}
		if !busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("OTA driver still busy")
		}
		time.Sleep(5 * time.Millisecond)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var started bool
	for _, f := range families {
		if f.GetName() == "matter_bdx_sessions_started_total" && len(f.GetMetric()) > 0 {
			started = true
		}
	}
	if !started {
		t.Error("no session metrics recorded")
	}
}

func TestSimulator_UpdateNotAvailable(t *testing.T) {
	cfg := testSettings(t)
	writeImage(t, cfg.OTA.ImageDir, "light-v2.ota", 2, 100)
	sim := newSimulator(t, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := sim.Update(ctx, UpdateQuery{VendorID: 0xFFF1, ProductID: 0x8000, SoftwareVersion: 2}, &bytes.Buffer{})
	if !errors.Is(err, ErrNoUpdate) {
		t.Fatalf("Update() error = %v, want ErrNoUpdate", err)
	}
	if res.Status != otaprovider.QueryStatusNotAvailable {
		t.Errorf("Status = %s", res.Status)
	}
}

func TestDevice_CloseIdempotentStores(t *testing.T) {
	sim, err := NewSimulator(SimulatorConfig{Settings: testSettings(t)})
	if err != nil {
		t.Fatal(err)
	}
	if err := sim.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
