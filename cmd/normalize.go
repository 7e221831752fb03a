package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

// normalizeCmd runs the full pipeline: manifest, parsers, aggregation,
// validation and canonical document output.
type normalizeCmd struct{}

func (*normalizeCmd) Name() string     { return "normalize" }
func (*normalizeCmd) Synopsis() string { return "parse every declared source and write the patrimony document" }
func (*normalizeCmd) Usage() string {
	return `pan normalize

  Reads the manifest, parses every declared account document, values crypto
  holdings in euros, aggregates everything per institution and writes the
  canonical patrimony document to the generated directory.
`
}

func (c *normalizeCmd) SetFlags(f *flag.FlagSet) {}

func (c *normalizeCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	n, err := newNormalizer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	doc, err := n.Normalize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	fmt.Printf("Patrimony document written (%d institutions, total %s)\n",
		len(doc.Patrimoine.Financier.Etablissements), doc.Patrimoine.Total)
	return subcommands.ExitSuccess
}
