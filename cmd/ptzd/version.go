package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "ptzd\n")
			fmt.Fprintf(c.App.Writer, "Version:    %s\n", Version)
			fmt.Fprintf(c.App.Writer, "Commit:     %s\n", Commit)
			fmt.Fprintf(c.App.Writer, "Build Date: %s\n", BuildDate)
			return nil
		},
	}
}
