package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/etnz/patrimoine/cmd"
	"github.com/google/subcommands"
	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/predict"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))

	sub := make(map[string]*complete.Command)
	for _, c := range cmd.Commands {
		commander.Register(c, "")
		sub[c.Name()] = &complete.Command{}
	}

	// Shell completion: `COMP_INSTALL=1 pan` installs it.
	completer := &complete.Command{
		Sub: sub,
		Flags: map[string]complete.Predictor{
			"sources":   predict.Dirs("*"),
			"generated": predict.Dirs("*"),
			"cache-dir": predict.Dirs("*"),
		},
	}
	completer.Complete(path.Base(os.Args[0]))

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
