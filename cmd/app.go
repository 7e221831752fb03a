// Package cmd implements the CLI application to normalize a patrimony.
package cmd

import (
	"flag"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/etnz/patrimoine"
	"github.com/etnz/patrimoine/bitstack"
	"github.com/etnz/patrimoine/coingecko"
	"github.com/etnz/patrimoine/creditagricole"
	"github.com/etnz/patrimoine/generic"
	"github.com/google/subcommands"
)

// Commands is the list of subcommands a main package registers.
var Commands = []subcommands.Command{
	&normalizeCmd{},
	&detectCmd{},
	&summaryCmd{},
	&cacheCmd{},
	&topicCmd{},
}

// as a CLI application, it has a very short lived lifecycle, so it is ok to use global variables.

var (
	sourcesDir   = flag.String("sources", "sources", "Directory holding the manifest and the institution documents")
	generatedDir = flag.String("generated", "generated", "Directory where the canonical document is written")
	cacheDir     = flag.String("cache-dir", ".parse_cache", "Directory holding cached parse results")
	manifestFile = flag.String("manifest", "manifest.json", "Manifest filename, relative to the sources directory")
	outputFile   = flag.String("output", patrimoine.DefaultOutputFile, "Output filename, relative to the generated directory")
	cacheLimitMB = flag.Int("cache-limit", 100, "Cache size limit in MB, 0 to disable")
	noPrices     = flag.Bool("no-prices", false, "Skip live crypto prices, use declared values only")
)

// newRegistry assembles every known parser strategy.
func newRegistry() *patrimoine.Registry {
	reg := patrimoine.NewRegistry()
	reg.Register(creditagricole.PEA{})
	reg.Register(creditagricole.AV{})
	reg.Register(generic.CSV{})
	reg.Register(bitstack.History{})
	return reg
}

func newNormalizer() (*patrimoine.Normalizer, error) {
	cfg := patrimoine.Config{
		SourcesDir:   *sourcesDir,
		GeneratedDir: *generatedDir,
		CacheDir:     *cacheDir,
		ManifestFile: *manifestFile,
		OutputFile:   *outputFile,
		CacheLimitMB: *cacheLimitMB,
	}
	var prices patrimoine.PriceSource
	if !*noPrices {
		prices = coingecko.New()
	}
	return patrimoine.NewNormalizer(cfg, newRegistry(), prices)
}

// printMarkdown renders markdown for the terminal, falling back to the raw
// text when rendering fails.
func printMarkdown(md string) {
	out, err := glamour.Render(md, "auto")
	if err != nil {
		fmt.Println(md)
		return
	}
	fmt.Print(out)
}
