package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/script"
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Run a batch script against a probe",
	Long: `Parse a probe script and execute it statement by statement, printing each
step. Execution stops at the first failing statement.

Example script:
  connect swd
  clock 4000000
  read dp 0x0 expect 0x2BA01477
  write dp 0x4 0x50000000
  poll dp 0x4 0xA0000000 mask 0xA0000000
  status`,
	Args: cobra.ExactArgs(1),
	RunE: runScript,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&useSim, "sim", false, "run against an in-process probe with a simulated target")
}

func runScript(cmd *cobra.Command, args []string) error {
	parser, err := script.NewParser()
	if err != nil {
		return err
	}
	s, err := parser.ParseFile(args[0])
	if err != nil {
		return err
	}
	prog, err := script.Compile(s)
	if err != nil {
		return err
	}

	client, err := openClient(useSim, cfg.VendorID, cfg.ProductID)
	if err != nil {
		return err
	}
	defer client.Close()

	out := cmd.OutOrStdout()
	if err := script.RunProgram(cmd.Context(), client, prog, func(step script.Step) {
		fmt.Fprintln(out, step)
	}); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d statements OK\n", prog.Len())
	return nil
}
