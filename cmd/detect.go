package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/patrimoine"
	"github.com/google/subcommands"
)

// detectCmd scores every registered parser against a file, to help picking a
// parser_strategy when declaring a new account in the manifest.
type detectCmd struct {
	custodian   string
	accountType string
}

func (*detectCmd) Name() string     { return "detect" }
func (*detectCmd) Synopsis() string { return "rank parser strategies able to read a file" }
func (*detectCmd) Usage() string {
	return `pan detect [-custodian <code>] [-type <type>] <file>

  Scores every registered parser strategy against the file and prints the
  candidates by decreasing confidence. The ranking is advisory: at parse time
  the manifest's declared strategy order wins.
`
}

func (c *detectCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.custodian, "custodian", "", "Custodian code to pass to the parsers")
	f.StringVar(&c.accountType, "type", "", "Account type to pass to the parsers")
}

func (c *detectCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: expected exactly one file")
		return subcommands.ExitUsageError
	}
	path := f.Arg(0)
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	meta := patrimoine.AccountMetadata{Custodian: c.custodian, AccountType: c.accountType}
	candidates := newRegistry().AutoDetect(path, meta)
	if len(candidates) == 0 {
		fmt.Println("No parser strategy recognizes this file.")
		return subcommands.ExitSuccess
	}
	for _, candidate := range candidates {
		fmt.Printf("%.2f  %s\n", candidate.Score, candidate.Strategy)
	}
	return subcommands.ExitSuccess
}
