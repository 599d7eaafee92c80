package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/technosupport/ts-ptz/internal/ptz/adapters"
	"github.com/technosupport/ts-ptz/internal/ptz/adapters/vms"
)

// candidatesCommand prints the VMS endpoint order without sending anything.
func candidatesCommand() *cli.Command {
	return &cli.Command{
		Name:  "vms-candidates",
		Usage: "Print the VMS endpoint candidates tried for a command, in order",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "vms-name", Required: true},
			&cli.StringFlag{Name: "camera-id", Required: true},
			&cli.StringFlag{Name: "host", Value: "127.0.0.1", Usage: "VMS address"},
			&cli.IntFlag{Name: "port", Value: 80},
			&cli.BoolFlag{Name: "https"},
			&cli.StringFlag{Name: "direction", Value: "left"},
			&cli.StringFlag{Name: "event", Value: "mousedown"},
			&cli.Float64Flag{Name: "speed", Value: vms.DefaultSpeed},
		},
		Action: func(c *cli.Context) error {
			srv := vms.Server{
				Name:     c.String("vms-name"),
				IP:       c.String("host"),
				Port:     c.Int("port"),
				UseHTTPS: c.Bool("https"),
			}
			cmd := adapters.Normalize(c.String("direction"), c.String("event"))
			base := vms.BaseURL(srv)

			for i, cand := range vms.BuildCandidates(srv, c.String("camera-id"), cmd, c.Float64("speed")) {
				fmt.Fprintf(c.App.Writer, "%3d  %-18s %s\n", i+1, cand.Variant, cand.URL(base))
			}
			return nil
		},
	}
}
