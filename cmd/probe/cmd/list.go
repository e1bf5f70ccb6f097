package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dapclient"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List probes on the host USB bus",
	Long: `Scan the host for CMSIS-DAP probes (this probe, picoprobe, DAPLink) and print
one line per device. The configured PROBE_USB_VID/PID pair is matched too.`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	infos, err := dapclient.Enumerate(ctx, [2]uint16{cfg.VendorID, cfg.ProductID})
	if err != nil {
		return fmt.Errorf("enumerate probes: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No probes found.")
		return nil
	}

	fmt.Fprintln(out, "Detected probes:")
	for _, info := range infos {
		fmt.Fprintf(out, "  - %s (VID:PID %04X:%04X, bus %d addr %d", info.Label(), info.VID, info.PID, info.Bus, info.Address)
		if info.SerialNumber != "" {
			fmt.Fprintf(out, ", serial %s", info.SerialNumber)
		}
		fmt.Fprintln(out, ")")
	}
	return nil
}
