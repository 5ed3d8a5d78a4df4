// Command difftrace runs scenarios on several execution backends and
// compares their traces against an oracle.
package main

import (
	"os"

	_ "github.com/roach88/difftrace/internal/backend/interp"
	_ "github.com/roach88/difftrace/internal/backend/vm"
	"github.com/roach88/difftrace/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	cli.ReportError(os.Stderr, err)
	os.Exit(cli.GetExitCode(err))
}
