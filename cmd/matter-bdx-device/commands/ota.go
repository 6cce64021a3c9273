package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/backkem/matter-bdx/pkg/ota"
	"github.com/spf13/cobra"
)

var otaCmd = &cobra.Command{
	Use:   "ota",
	Short: "Inspect OTA software images",
}

var inspectVerify bool

var otaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the images in ota.image_dir",
	Args:  cobra.NoArgs,
	RunE:  runOTAList,
}

var otaInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Print the header of an OTA image file",
	Args:  cobra.ExactArgs(1),
	RunE:  runOTAInspect,
}

func init() {
	otaInspectCmd.Flags().BoolVar(&inspectVerify, "verify", false, "hash the payload and check it against the header digest")

	otaCmd.AddCommand(otaListCmd)
	otaCmd.AddCommand(otaInspectCmd)
}

func runOTAList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.OTA.ImageDir == "" {
		return fmt.Errorf("ota.image_dir is not set")
	}
	catalog, err := ota.NewCatalog(ota.CatalogConfig{
		Dir:           cfg.OTA.ImageDir,
		Verify:        cfg.OTA.Verify,
		LoggerFactory: loggerFactory(cmd, cfg),
	})
	if err != nil {
		return err
	}
	defer catalog.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DESIGNATOR\tVENDOR\tPRODUCT\tVERSION\tVERSION STRING\tSIZE")
	for _, e := range catalog.Entries() {
		fmt.Fprintf(w, "%s\t0x%04X\t0x%04X\t%d\t%s\t%d\n",
			e.Designator, e.Header.VendorID, e.Header.ProductID,
			e.Header.SoftwareVersion, e.Header.SoftwareVersionString, e.Prefix.TotalSize)
	}
	return w.Flush()
}

func runOTAInspect(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	p, h, err := ota.ReadHeader(f)
	if err != nil {
		return err
	}
	cmd.Printf("Vendor ID:        0x%04X\n", h.VendorID)
	cmd.Printf("Product ID:       0x%04X\n", h.ProductID)
	cmd.Printf("Version:          %d (%s)\n", h.SoftwareVersion, h.SoftwareVersionString)
	cmd.Printf("Total size:       %d\n", p.TotalSize)
	cmd.Printf("Payload:          %d bytes at offset %d\n", h.PayloadSize, p.PayloadOffset())
	if h.MinApplicableVersion != nil {
		cmd.Printf("Min applicable:   %d\n", *h.MinApplicableVersion)
	}
	if h.MaxApplicableVersion != nil {
		cmd.Printf("Max applicable:   %d\n", *h.MaxApplicableVersion)
	}
	if h.ReleaseNotesURL != "" {
		cmd.Printf("Release notes:    %s\n", h.ReleaseNotesURL)
	}
	cmd.Printf("Digest:           %s %x\n", h.DigestType, h.Digest)

	if inspectVerify {
		if err := ota.VerifyPayload(h, f); err != nil {
			return fmt.Errorf("verify %s: %w", args[0], err)
		}
		cmd.Println("Digest verified")
	}
	return nil
}
