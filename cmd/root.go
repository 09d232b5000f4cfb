package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the invoicer application
var rootCmd = &cobra.Command{
	Use:   "invoicer",
	Short: "Creates, exports and emails today's invoice from a Google Sheets template",
	Long: `invoicer copies an invoice template spreadsheet in Google Drive, writes
today's date into it, exports the copy as PDF, saves the PDF locally and,
after confirmation, emails it through Gmail.

It can run as:
  - A standalone CLI tool (default)
  - An MCP (Model Context Protocol) server for AI assistants`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

var (
	configPath string
	debugMode  bool
)

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "invoicer version %s\n" .Version}}`)

	// If no subcommand is provided, run the pipeline by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "run")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file. Can also use INVOICER_CONFIG env var. Default: invoicer.yaml")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
