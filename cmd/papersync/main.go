// Command papersync syncs papers between Zotero, a reMarkable tablet and a
// Markdown vault.
package main

import (
	"os"

	"github.com/roach88/papersync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		code := cli.GetExitCode(err)
		format, _ := cmd.PersistentFlags().GetString("format")
		if format != "json" {
			format = "text"
		}
		_ = (&cli.OutputFormatter{Format: format, Writer: os.Stderr}).Error(code, err.Error())
		os.Exit(code)
	}
}
