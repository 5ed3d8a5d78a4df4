package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/difftrace/internal/backend"
)

// BackendInfo describes one registered backend.
type BackendInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// NewBackendsCommand creates the backends command.
func NewBackendsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "backends",
		Short:         "List registered backends",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackends(cmd, rootOpts)
		},
	}
}

func runBackends(cmd *cobra.Command, opts *RootOptions) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	var infos []BackendInfo
	for _, name := range backend.Names() {
		b, err := backend.New(name, backend.Config{})
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Errorf("backend %s: %w", name, err))
		}
		infos = append(infos, BackendInfo{Name: b.Name(), Description: b.Description()})
	}

	if opts.Format == "json" {
		return formatter.Success(infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(formatter.Writer, "No backends registered.")
		return nil
	}
	table := formatter.Table("NAME", "DESCRIPTION")
	for _, info := range infos {
		table.Append([]string{info.Name, info.Description})
	}
	table.Render()
	return nil
}
