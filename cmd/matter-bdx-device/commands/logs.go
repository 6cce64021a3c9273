package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/backkem/matter-bdx/pkg/clusters/diagnosticlogs"
	"github.com/backkem/matter-bdx/pkg/diaglog"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Manage the stored diagnostic logs",
	Long: `Manage the diagnostic logs the device serves through the Diagnostic
Logs cluster. Each intent (EndUserSupport, NetworkDiag, CrashLogs) holds one
log. Reading from "-" reads standard input.

Requires diagnostics.path in the configuration.`,
}

var (
	putUptime time.Duration
	showOut   string
)

var logsPutCmd = &cobra.Command{
	Use:   "put <intent> <file>",
	Short: "Replace the log for an intent",
	Args:  cobra.ExactArgs(2),
	RunE:  runLogsPut,
}

var logsAppendCmd = &cobra.Command{
	Use:   "append <intent> <file>",
	Short: "Append to the log for an intent",
	Args:  cobra.ExactArgs(2),
	RunE:  runLogsAppend,
}

var logsShowCmd = &cobra.Command{
	Use:   "show <intent>",
	Short: "Print the log for an intent",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogsShow,
}

var logsClearCmd = &cobra.Command{
	Use:   "clear <intent>",
	Short: "Delete the log for an intent",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogsClear,
}

func init() {
	logsPutCmd.Flags().DurationVar(&putUptime, "uptime", 0, "node uptime when the log was captured")
	logsShowCmd.Flags().StringVarP(&showOut, "out", "o", "", "write the log to a file instead of stdout")

	logsCmd.AddCommand(logsPutCmd)
	logsCmd.AddCommand(logsAppendCmd)
	logsCmd.AddCommand(logsShowCmd)
	logsCmd.AddCommand(logsClearCmd)
}

// withStore runs fn against the configured log store.
func withStore(cmd *cobra.Command, fn func(s *diaglog.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cmd, cfg)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		s.Close()
		return err
	}
	return s.Close()
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

func runLogsPut(cmd *cobra.Command, args []string) error {
	intent, err := diagnosticlogs.ParseIntent(args[0])
	if err != nil {
		return err
	}
	data, err := readInput(cmd, args[1])
	if err != nil {
		return err
	}
	rec := diaglog.Record{}
	if cmd.Flags().Changed("uptime") {
		rec.Uptime = &putUptime
	}
	return withStore(cmd, func(s *diaglog.Store) error {
		if err := s.Put(intent, data, rec); err != nil {
			return err
		}
		st, err := s.Stat(intent)
		if err != nil {
			return err
		}
		cmd.Printf("Stored %d bytes for %s\n", st.Size, intent)
		return nil
	})
}

func runLogsAppend(cmd *cobra.Command, args []string) error {
	intent, err := diagnosticlogs.ParseIntent(args[0])
	if err != nil {
		return err
	}
	data, err := readInput(cmd, args[1])
	if err != nil {
		return err
	}
	return withStore(cmd, func(s *diaglog.Store) error {
		if err := s.Append(intent, data); err != nil {
			return err
		}
		st, err := s.Stat(intent)
		if err != nil {
			return err
		}
		cmd.Printf("%s now holds %d bytes\n", intent, st.Size)
		return nil
	})
}

func runLogsShow(cmd *cobra.Command, args []string) error {
	intent, err := diagnosticlogs.ParseIntent(args[0])
	if err != nil {
		return err
	}
	return withStore(cmd, func(s *diaglog.Store) error {
		data, rec, err := s.Read(intent)
		if err != nil {
			return err
		}
		if showOut == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(showOut, data, 0o644); err != nil {
			return err
		}
		cmd.Printf("Wrote %d bytes captured %s to %s\n", rec.Size, rec.CapturedAt.Format(time.RFC3339), showOut)
		return nil
	})
}

func runLogsClear(cmd *cobra.Command, args []string) error {
	intent, err := diagnosticlogs.ParseIntent(args[0])
	if err != nil {
		return err
	}
	return withStore(cmd, func(s *diaglog.Store) error {
		if err := s.Clear(intent); err != nil {
			return fmt.Errorf("clear %s: %w", intent, err)
		}
		cmd.Printf("Cleared %s\n", intent)
		return nil
	})
}
