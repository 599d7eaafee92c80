package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ptzd: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "ptzd",
		Usage:   "PTZ command dispatcher for VMS-routed and directly addressed cameras",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"PTZD_CONFIG"},
				Usage:   "Path to the YAML config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override logging.level",
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Console logging at debug level",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			moveCommand(),
			candidatesCommand(),
			tokenCommand(),
			versionCommand(),
		},
	}
}
