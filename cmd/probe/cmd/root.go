package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceProbe/internal/config"
	"github.com/OpenTraceLab/OpenTraceProbe/internal/logging"
)

var (
	// Global flags
	verbose   bool
	logFormat string
	envFile   string

	// Resolved in PersistentPreRunE
	cfg    config.Config
	logger *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "probe",
	Short: "CMSIS-DAP debug probe firmware and host tools",
	Long: `A bit-banged SWD/JTAG debug probe speaking the CMSIS-DAP command set.

The serve command runs the probe itself: command packets arrive over a USB
vendor interface, are executed against the debug pins and answered in order.
The remaining commands talk to a probe from the host side.

Examples:
  probe serve --pins sim --bus-dir /tmp/softusb     # Probe with a simulated target
  probe serve --pins gpio --serial /dev/ttyUSB0     # Probe on GPIO with UART bridge
  probe list                                        # Probes on the host USB bus
  probe info --sim                                  # Identity of the in-process probe
  probe run --sim bringup.dap                       # Run a batch script`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file of PROBE_* settings")
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(envFile)
	if err != nil {
		return err
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	logger, err = logging.Setup(logging.Options{
		Verbose: verbose,
		Format:  cfg.LogFormat,
		Output:  cmd.ErrOrStderr(),
	})
	return err
}
