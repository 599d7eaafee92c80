package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/technosupport/ts-ptz/internal/ptz"
)

// moveCommand sends one command the same way the HTTP API would, for
// checking a camera from the field without the operator UI.
func moveCommand() *cli.Command {
	return &cli.Command{
		Name:  "move",
		Usage: "Dispatch a single PTZ command and print the result",
		Description: `Examples:
  ptzd move --vms-name site-a --camera-id 12 --direction left --duration 500ms
  ptzd move --ip 192.168.1.64 --user admin --pass secret --direction zoomin
  ptzd move --service site-a --camera-id 7 --direction stop --event mouseup`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "camera-id", Usage: "Camera id (VMS or registry)"},
			&cli.StringFlag{Name: "vms-name", Usage: "Route through this VMS"},
			&cli.StringFlag{Name: "service", Usage: "Registry main service name"},
			&cli.StringFlag{Name: "ip", Usage: "Camera address, ip or ip:port"},
			&cli.StringFlag{Name: "user", Usage: "Camera username"},
			&cli.StringFlag{Name: "pass", Usage: "Camera password"},
			&cli.StringFlag{Name: "profile-token", Usage: "ONVIF profile token"},
			&cli.StringFlag{Name: "direction", Value: "stop", Usage: "left, right, up, down, zoomin, zoomout, stop"},
			&cli.StringFlag{Name: "event", Value: "mousedown", Usage: "UI event type"},
			&cli.DurationFlag{Name: "duration", Usage: "Send the matching stop after this long"},
			&cli.DurationFlag{Name: "hold", Usage: "ONVIF ContinuousMove timeout"},
			&cli.BoolFlag{Name: "registry", Usage: "Use the Postgres registry even with --ip"},
		},
		Action: func(c *cli.Context) error {
			cc, err := newCommandContext(c)
			if err != nil {
				return err
			}
			defer cc.Logger.Sync()

			req := ptz.Request{
				CameraID:           c.String("camera-id"),
				VMSName:            c.String("vms-name"),
				MainServiceName:    c.String("service"),
				CameraIP:           c.String("ip"),
				CameraUser:         c.String("user"),
				CameraPass:         c.String("pass"),
				CameraProfileToken: c.String("profile-token"),
				Direction:          c.String("direction"),
				EventType:          c.String("event"),
				HoldTimeoutSec:     c.Duration("hold").Seconds(),
			}
			useRegistry := c.Bool("registry") || req.VMSName != "" || req.CameraIP == ""

			comp, err := buildComponents(c.Context, cc.Config, cc.Logger, buildOptions{Registry: useRegistry})
			if err != nil {
				return err
			}
			defer comp.Close()

			res, dispatchErr := comp.Svc.Dispatch(c.Context, req)
			if err := printJSON(res, dispatchErr); err != nil {
				return err
			}
			if dispatchErr != nil {
				return dispatchErr
			}

			if d := c.Duration("duration"); d > 0 {
				time.Sleep(d)
				req.EventType = "mouseup"
				res, dispatchErr = comp.Svc.Dispatch(c.Context, req)
				if err := printJSON(res, dispatchErr); err != nil {
					return err
				}
			}
			return dispatchErr
		},
	}
}

func printJSON(res *ptz.Result, err error) error {
	out := struct {
		*ptz.Result
		Error string `json:"error,omitempty"`
	}{Result: res}
	if err != nil {
		out.Error = err.Error()
	}
	if out.Result == nil {
		out.Result = &ptz.Result{}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(out); encErr != nil {
		return errors.Join(fmt.Errorf("print result: %w", encErr), err)
	}
	return nil
}
