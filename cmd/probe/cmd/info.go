package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dap"
)

var (
	useSim bool
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show a probe's identity and capabilities",
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&useSim, "sim", false, "query an in-process probe with a simulated target")
}

func runInfo(cmd *cobra.Command, args []string) error {
	client, err := openClient(useSim, cfg.VendorID, cfg.ProductID)
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := client.Info()
	if err != nil {
		return fmt.Errorf("query info: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Vendor:           %s\n", info.Vendor)
	fmt.Fprintf(out, "Product:          %s\n", info.Product)
	fmt.Fprintf(out, "Serial:           %s\n", info.Serial)
	fmt.Fprintf(out, "Protocol version: %s\n", info.ProtocolVersion)
	fmt.Fprintf(out, "Firmware version: %s\n", info.FirmwareVersion)
	fmt.Fprintf(out, "Capabilities:    ")
	if info.Capabilities&dap.CapSWD != 0 {
		fmt.Fprint(out, " SWD")
	}
	if info.Capabilities&dap.CapJTAG != 0 {
		fmt.Fprint(out, " JTAG")
	}
	if info.Capabilities&dap.CapQueue != 0 {
		fmt.Fprint(out, " queue")
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Packet size:      %d\n", info.PacketSize)
	fmt.Fprintf(out, "Queue capacity:   %d\n", info.QueueCapacity)
	return nil
}
