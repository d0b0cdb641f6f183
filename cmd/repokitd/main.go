package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/repokit/internal/cli"
	"github.com/cloo-solutions/repokit/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "repokitd",
		Short: "Repokit daemon and CLI",
		Long:  "Repokit daemon for serving notes over HTTP and managing them through the configured repository provider",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.MigrateCmd())
	rootCmd.AddCommand(admin.NoteCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
