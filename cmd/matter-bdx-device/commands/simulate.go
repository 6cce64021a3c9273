package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/backkem/matter-bdx/internal/config"
	"github.com/backkem/matter-bdx/internal/device"
	"github.com/backkem/matter-bdx/pkg/clusters/diagnosticlogs"
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run transfers against a simulated peer",
	Long: `Build the device from the configuration and drive it from a simulated
peer over an in-memory link: a controller retrieving diagnostic logs, or an
OTA requestor downloading and applying a software image.

With metrics enabled the transfer metrics are served on metrics.listen;
--wait keeps serving them after the run until interrupted.`,
}

var (
	simTimeout time.Duration
	simWait    bool
	simOut     string

	simIntent     string
	simProtocol   string
	simDesignator string

	simVendor  uint16
	simProduct uint16
	simVersion uint32
)

var simulateLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Retrieve a diagnostic log as a controller",
	Args:  cobra.NoArgs,
	RunE:  runSimulateLogs,
}

var simulateOTACmd = &cobra.Command{
	Use:   "ota",
	Short: "Run a software update as an OTA requestor",
	Args:  cobra.NoArgs,
	RunE:  runSimulateOTA,
}

func init() {
	simulateCmd.PersistentFlags().DurationVar(&simTimeout, "timeout", time.Minute, "bound on the whole run")
	simulateCmd.PersistentFlags().BoolVar(&simWait, "wait", false, "keep serving metrics until interrupted")
	simulateCmd.PersistentFlags().StringVarP(&simOut, "out", "o", "", "write the received payload to a file")

	simulateLogsCmd.Flags().StringVar(&simIntent, "intent", diagnosticlogs.IntentEndUserSupport.String(), "log intent")
	simulateLogsCmd.Flags().StringVar(&simProtocol, "protocol", "bdx", "requested transfer protocol (bdx|inline)")
	simulateLogsCmd.Flags().StringVar(&simDesignator, "designator", "", "BDX file designator (default: <intent>.log)")

	simulateOTACmd.Flags().Uint16Var(&simVendor, "vendor", 0xFFF1, "requestor vendor ID")
	simulateOTACmd.Flags().Uint16Var(&simProduct, "product", 0x8000, "requestor product ID")
	simulateOTACmd.Flags().Uint32Var(&simVersion, "version", 1, "requestor's current software version")

	simulateCmd.AddCommand(simulateLogsCmd)
	simulateCmd.AddCommand(simulateOTACmd)
}

func parseProtocol(s string) (diagnosticlogs.TransferProtocol, error) {
	switch strings.ToLower(s) {
	case "bdx":
		return diagnosticlogs.ProtocolBDX, nil
	case "inline", "response":
		return diagnosticlogs.ProtocolResponsePayload, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q (want bdx or inline)", s)
	}
}

// simulation holds what a simulate run sets up and tears down.
type simulation struct {
	cmd     *cobra.Command
	cfg     *config.Config
	sim     *device.Simulator
	metrics *metricsServer
	cleanup []func() error
}

func startSimulation(ctx context.Context, cmd *cobra.Command) (*simulation, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	lf := loggerFactory(cmd, cfg)
	log := lf.NewLogger("cli")
	s := &simulation{cmd: cmd, cfg: cfg}

	tp, err := startTelemetry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.cleanup = append(s.cleanup, func() error { return tp.Shutdown(context.Background()) })

	s.metrics, err = startMetrics(cfg, log)
	if err != nil {
		s.close()
		return nil, err
	}
	s.cleanup = append(s.cleanup, s.metrics.Close)

	s.sim, err = device.NewSimulator(device.SimulatorConfig{
		Settings:      cfg,
		Registerer:    s.metrics.registry,
		Telemetry:     tp,
		LoggerFactory: lf,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	s.cleanup = append(s.cleanup, s.sim.Close)
	return s, nil
}

// output returns where the payload goes and a func closing it.
func (s *simulation) output() (io.Writer, func() error, error) {
	if simOut == "" {
		return s.cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(simOut)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

// finish waits for a signal when --wait is set and metrics are served.
func (s *simulation) finish() {
	if !simWait || s.metrics.server == nil {
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	s.cmd.PrintErrf("Serving metrics on %s. Press Ctrl+C to stop.\n", s.metrics.addr)
	<-ctx.Done()
}

// close runs the cleanups in reverse order and reports the first error.
func (s *simulation) close() error {
	var first error
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		if err := s.cleanup[i](); err != nil && first == nil {
			first = err
		}
	}
	s.cleanup = nil
	return first
}

func runSimulateLogs(cmd *cobra.Command, args []string) error {
	intent, err := diagnosticlogs.ParseIntent(simIntent)
	if err != nil {
		return err
	}
	protocol, err := parseProtocol(simProtocol)
	if err != nil {
		return err
	}
	designator := simDesignator
	if designator == "" {
		designator = strings.ToLower(intent.String()) + ".log"
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), simTimeout)
	defer cancel()
	s, err := startSimulation(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	out, closeOut, err := s.output()
	if err != nil {
		return err
	}
	res, err := s.sim.RetrieveLogs(ctx, intent, protocol, designator, out)
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	via := "inline"
	if res.OverBDX {
		via = fmt.Sprintf("over BDX in %d blocks", res.Blocks)
	}
	cmd.PrintErrf("RetrieveLogs %s: %s, %d bytes %s\n", intent, res.Status, res.Bytes, via)
	if res.Uptime != nil {
		cmd.PrintErrf("Captured %s after %s uptime\n", res.Captured.Format(time.RFC3339), *res.Uptime)
	}
	s.finish()
	return s.close()
}

func runSimulateOTA(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), simTimeout)
	defer cancel()
	s, err := startSimulation(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	if s.sim.Device().Catalog() == nil {
		return fmt.Errorf("ota.image_dir is not set")
	}
	out, closeOut, err := s.output()
	if err != nil {
		return err
	}
	if simOut == "" {
		out = io.Discard
	}
	res, err := s.sim.Update(ctx, device.UpdateQuery{
		VendorID:        simVendor,
		ProductID:       simProduct,
		SoftwareVersion: simVersion,
	}, out)
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	if errors.Is(err, device.ErrNoUpdate) {
		cmd.PrintErrf("QueryImage: %s\n", res.Status)
		s.finish()
		return s.close()
	}
	if err != nil {
		return err
	}

	cmd.PrintErrf("QueryImage: %s, version %d (%s) at %s\n", res.Status, res.Version, res.VersionString, res.URI)
	cmd.PrintErrf("Downloaded %d bytes in %d blocks\n", res.Bytes, res.Blocks)
	cmd.PrintErrf("ApplyUpdate: %s after %s\n", res.Action, res.Delay)
	s.finish()
	return s.close()
}
