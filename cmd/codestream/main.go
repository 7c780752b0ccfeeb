package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "codestream",
	Short: "Codestream - run untrusted code in sandboxes and stream its output",
	Long: `Codestream runs user-submitted C and Python programs inside locked-down,
resource-capped Docker containers and streams their output line by line.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./codestream.yaml or ./config/codestream.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
