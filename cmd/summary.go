package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/etnz/patrimoine"
	"github.com/google/subcommands"
)

// summaryCmd renders the latest canonical document as a readable overview.
type summaryCmd struct{}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "display a summary of the generated patrimony document" }
func (*summaryCmd) Usage() string {
	return `pan summary

  Reads the canonical document from the generated directory and displays the
  per-category and per-institution totals.
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) {}

func (c *summaryCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	path := filepath.Join(*generatedDir, *outputFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %q (run 'pan normalize' first): %v\n", path, err)
		return subcommands.ExitFailure
	}
	var doc patrimoine.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding %q: %v\n", path, err)
		return subcommands.ExitFailure
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Patrimoine (%s)\n\n", doc.Meta.GeneratedAt)
	fmt.Fprintf(&b, "**Total : %s**\n\n", doc.Patrimoine.Total)

	fmt.Fprintf(&b, "## Financier : %s\n\n", doc.Patrimoine.Financier.Total)
	for _, e := range doc.Patrimoine.Financier.Etablissements {
		fmt.Fprintf(&b, "- %s : %s\n", e.Nom, e.Total)
		for _, compte := range e.Comptes {
			fmt.Fprintf(&b, "  - %s : %s\n", compte.Type, compte.Montant)
		}
	}

	if len(doc.Patrimoine.Crypto.Plateformes) > 0 {
		fmt.Fprintf(&b, "\n## Crypto : %s\n\n", doc.Patrimoine.Crypto.Total)
		for _, p := range doc.Patrimoine.Crypto.Plateformes {
			fmt.Fprintf(&b, "- %s : %s\n", p.Nom, p.Total)
		}
	}
	if len(doc.Patrimoine.MetauxPrecieux.Actifs) > 0 {
		fmt.Fprintf(&b, "\n## Métaux précieux : %s\n", doc.Patrimoine.MetauxPrecieux.Total)
	}
	if len(doc.Patrimoine.Immobilier.Biens) > 0 {
		fmt.Fprintf(&b, "\n## Immobilier (net) : %s\n", doc.Patrimoine.Immobilier.Total)
	}

	printMarkdown(b.String())
	return subcommands.ExitSuccess
}
