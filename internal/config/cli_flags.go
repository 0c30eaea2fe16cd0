package config

import "github.com/spf13/cobra"

// RegisterFlags installs the shared CLI flags on the root command.
func RegisterFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress all output except errors")
	cmd.PersistentFlags().Bool("json", false, "Log in JSON format")
	cmd.PersistentFlags().String("config", "", "Path to YAML configuration file")
	cmd.PersistentFlags().String("base-url", "", "Storefront base URL")
	cmd.PersistentFlags().String("user-agent", "", "Custom user agent string")
	cmd.PersistentFlags().String("proxy", "", "HTTP/SOCKS5 proxy (e.g. http://localhost:8080)")
	cmd.PersistentFlags().String("snapshot", "", "Cursor snapshot file path")
	cmd.PersistentFlags().String("catalog", "", "Catalog file path")
	cmd.PersistentFlags().String("report", "", "Write the run report to this file (.json/.csv/.txt)")
	cmd.PersistentFlags().String("account", "default", "Credential account name")
	cmd.PersistentFlags().Int("workers", DefaultWorkerCount, "Number of extraction workers")
	cmd.PersistentFlags().Int("batch-size", DefaultBatchSize, "Tasks per extraction batch")
	cmd.PersistentFlags().Int("pool-size", DefaultPoolSize, "Browser session pool capacity")
	cmd.PersistentFlags().Int("cycles", 0, "Number of schedule cycles to run (0 = one)")
	cmd.PersistentFlags().Int("metrics-port", 0, "Prometheus metrics port (0 = disabled)")
	cmd.PersistentFlags().Bool("force-update", false, "Ignore next-eligible times when popping tasks")
	cmd.PersistentFlags().Bool("parallel-scan", false, "Fetch discovery cursors in parallel")
	cmd.PersistentFlags().Bool("headful", false, "Run the browser with a visible window")
}
