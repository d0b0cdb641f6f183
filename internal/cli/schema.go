// Package cli holds command-line plumbing shared by the repokitd commands:
// the machine-readable --help-json dump of the command tree.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const helpJSONFlag = "help-json"

// FlagSchema describes one flag of a command.
type FlagSchema struct {
	Name        string `json:"name"`
	Shorthand   string `json:"shorthand,omitempty"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	// Inherited flags are declared persistent on an ancestor.
	Inherited bool `json:"inherited,omitempty"`
}

// CommandSchema describes a command and, recursively, its visible
// subcommands.
type CommandSchema struct {
	Name        string          `json:"name"`
	Use         string          `json:"use,omitempty"`
	Aliases     []string        `json:"aliases,omitempty"`
	Description string          `json:"description,omitempty"`
	Long        string          `json:"long,omitempty"`
	Example     string          `json:"example,omitempty"`
	Runnable    bool            `json:"runnable"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

// GenerateSchema describes cmd and every subcommand that is neither hidden
// nor cobra's generated help command.
func GenerateSchema(cmd *cobra.Command) CommandSchema {
	schema := CommandSchema{
		Name:        cmd.Name(),
		Use:         cmd.Use,
		Aliases:     cmd.Aliases,
		Description: cmd.Short,
		Long:        cmd.Long,
		Example:     cmd.Example,
		Runnable:    cmd.Runnable(),
		Flags:       commandFlags(cmd),
	}

	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" {
			continue
		}
		schema.Subcommands = append(schema.Subcommands, GenerateSchema(sub))
	}
	return schema
}

func commandFlags(cmd *cobra.Command) []FlagSchema {
	var flags []FlagSchema
	collect := func(inherited bool) func(*pflag.Flag) {
		return func(f *pflag.Flag) {
			if f.Hidden || f.Name == "help" || f.Name == helpJSONFlag {
				return
			}
			flags = append(flags, FlagSchema{
				Name:        f.Name,
				Shorthand:   f.Shorthand,
				Type:        f.Value.Type(),
				Default:     f.DefValue,
				Description: f.Usage,
				Required:    flagRequired(f),
				Inherited:   inherited,
			})
		}
	}
	cmd.LocalFlags().VisitAll(collect(false))
	cmd.InheritedFlags().VisitAll(collect(true))
	return flags
}

// flagRequired reports whether MarkFlagRequired was called for f. Cobra
// records that on the flag, not on the command.
func flagRequired(f *pflag.Flag) bool {
	return slices.Contains(f.Annotations[cobra.BashCompOneRequiredFlag], "true")
}

// WriteSchema writes the indented JSON schema of cmd to w.
func WriteSchema(w io.Writer, cmd *cobra.Command) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(GenerateSchema(cmd))
}

// AddHelpJSONFlag registers --help-json on cmd and all of its subcommands.
func AddHelpJSONFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool(helpJSONFlag, false, "Output command schema as JSON")
}

// CheckHelpJSON prints the schema of the command named before --help-json
// and exits. It runs before Execute so required flags and argument checks
// do not get in the way. Without --help-json it returns.
func CheckHelpJSON(root *cobra.Command) {
	target, ok := helpJSONTarget(root, os.Args[1:])
	if !ok {
		return
	}
	if err := WriteSchema(os.Stdout, target); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schema: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func helpJSONTarget(root *cobra.Command, args []string) (*cobra.Command, bool) {
	i := slices.Index(args, "--"+helpJSONFlag)
	if i < 0 {
		return nil, false
	}
	return findTargetCommand(root, args[:i]), true
}

func findTargetCommand(cmd *cobra.Command, args []string) *cobra.Command {
	if len(args) == 0 {
		return cmd
	}
	for _, sub := range cmd.Commands() {
		if sub.Name() == args[0] || sub.HasAlias(args[0]) {
			return findTargetCommand(sub, args[1:])
		}
	}
	return cmd
}
