package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const version = "0.1.0"

func newApp() *cli.App {
	return &cli.App{
		Name:    "threadctl",
		Usage:   "Ask an AI about line ranges of a source file and keep the conversations",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "config.yaml",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log at debug level",
			},
		},
		Commands: []*cli.Command{
			askCommand(),
			replyCommand(),
			listCommand(),
			exportCommand(),
			statusCommand(),
			deleteCommand(),
			navigateCommand("next", true),
			navigateCommand("prev", false),
			settingsCommand(),
			providersCommand(),
			testCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
