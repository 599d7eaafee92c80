package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/technosupport/ts-ptz/internal/tokens"
)

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for an operator console",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "operator", Required: true},
			&cli.DurationFlag{Name: "ttl", Value: tokens.DefaultTTL},
		},
		Action: func(c *cli.Context) error {
			cc, err := newCommandContext(c)
			if err != nil {
				return err
			}
			if cc.Config.Auth.SigningKey == "" {
				return errors.New("auth.signing_key or JWT_SIGNING_KEY is required")
			}
			tok, err := tokens.NewManager(cc.Config.Auth.SigningKey).
				Generate(c.String("operator"), []string{tokens.ScopeControl}, c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, tok)
			return nil
		},
	}
}
