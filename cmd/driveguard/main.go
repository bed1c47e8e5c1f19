package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"driveguard/internal/config"
)

const (
	flagConfig   = "config"
	flagInput    = "input"
	flagHTTPAddr = "http-addr"
	flagGRPCAddr = "grpc-addr"
	flagMute     = "mute"
	flagDebug    = "debug"
	flagKind     = "event-type"
	flagSince    = "since"
	flagLimit    = "limit"
	flagSummary  = "summary"
)

func main() {
	app := &cli.App{
		Name:  "driveguard",
		Usage: "watch a driver for drowsiness and absence",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "path to a YAML configuration file",
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "process landmark observations and serve the API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagInput,
						Usage: "JSON lines observation file, - for stdin",
					},
					&cli.StringFlag{
						Name:  flagHTTPAddr,
						Usage: "HTTP listen address",
					},
					&cli.StringFlag{
						Name:  flagGRPCAddr,
						Usage: "gRPC health listen address",
					},
					&cli.BoolFlag{
						Name:  flagMute,
						Usage: "log alerts instead of playing tones",
					},
					&cli.BoolFlag{
						Name:  flagDebug,
						Usage: "log request and response bodies",
					},
				},
				Action: runAction,
			},
			{
				Name:  "events",
				Usage: "print recorded events",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagKind,
						Usage: "only this event type (e.g. \"Driver Absence\")",
					},
					&cli.TimestampFlag{
						Name:   flagSince,
						Usage:  "only events at or after this time",
						Layout: "2006-01-02T15:04:05",
					},
					&cli.IntFlag{
						Name:  flagLimit,
						Usage: "maximum number of events",
						Value: 50,
					},
					&cli.BoolFlag{
						Name:  flagSummary,
						Usage: "print per-type duration statistics instead of rows",
					},
				},
				Action: eventsAction,
			},
			{
				Name:   "tones",
				Usage:  "generate missing alert tones and print their format",
				Action: tonesAction,
			},
			{
				Name:      "hash-password",
				Usage:     "print a bcrypt hash for auth.password",
				ArgsUsage: "<password>",
				Action:    hashPasswordAction,
			},
		},
		Action: runAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return cfg, err
	}

	if c.IsSet(flagInput) {
		cfg.Input.File = c.String(flagInput)
		cfg.Input.Command = ""
	}
	if c.IsSet(flagHTTPAddr) {
		cfg.HTTP.Addr = c.String(flagHTTPAddr)
	}
	if c.IsSet(flagGRPCAddr) {
		cfg.GRPC.Addr = c.String(flagGRPCAddr)
	}
	if c.Bool(flagMute) {
		cfg.Alert.Muted = true
	}
	if c.Bool(flagDebug) {
		cfg.HTTP.Debug = true
	}
	return cfg, nil
}
