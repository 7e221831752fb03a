package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

// cacheCmd is a container for cache subcommands
type cacheCmd struct {
}

func (*cacheCmd) Name() string     { return "cache" }
func (*cacheCmd) Synopsis() string { return "inspect or clear the parse-result cache." }
func (*cacheCmd) Usage() string {
	return `pan cache <subcommand> [args]

Commands:
  stats - Show cache directory statistics.
  clear - Remove every cached parse result.
`
}

func (c *cacheCmd) SetFlags(f *flag.FlagSet) {}
func (c *cacheCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	commander := subcommands.NewCommander(f, "cache")
	commander.Register(&cacheStatsCmd{}, "")
	commander.Register(&cacheClearCmd{}, "")
	return commander.Execute(ctx, args...)
}

type cacheStatsCmd struct{}

func (*cacheStatsCmd) Name() string     { return "stats" }
func (*cacheStatsCmd) Synopsis() string { return "show cache directory statistics" }
func (*cacheStatsCmd) Usage() string {
	return `pan cache stats

  Prints the number of cached parse results and their total size.
`
}
func (c *cacheStatsCmd) SetFlags(f *flag.FlagSet) {}

func (c *cacheStatsCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	n, err := newNormalizer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	stats, err := n.Cache().Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("cache directory: %s\n", stats.Dir)
	fmt.Printf("entries: %d (%d bytes)\n", stats.FileCount, stats.TotalSize)
	for _, file := range stats.Files {
		fmt.Printf("  %s\n", file)
	}
	return subcommands.ExitSuccess
}

type cacheClearCmd struct{}

func (*cacheClearCmd) Name() string     { return "clear" }
func (*cacheClearCmd) Synopsis() string { return "remove every cached parse result" }
func (*cacheClearCmd) Usage() string {
	return `pan cache clear

  Deletes every cache entry. The next run re-parses all historical documents.
`
}
func (c *cacheClearCmd) SetFlags(f *flag.FlagSet) {}

func (c *cacheClearCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	n, err := newNormalizer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if err := n.Cache().ClearAll(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Println("cache cleared")
	return subcommands.ExitSuccess
}
