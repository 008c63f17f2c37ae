package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "oa-server",
		Usage:                 "OA approval workflow service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				Sources: cli.EnvVars("OA_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (trace, debug, info, warn, error)",
				Sources: cli.EnvVars("OA_LOG_LEVEL"),
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP and gRPC servers",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Apply database migrations and exit",
				Action: migrate,
			},
			{
				Name:   "seed",
				Usage:  "Create the demo positions, users, process types and workflows",
				Action: seed,
			},
			{
				Name:   "pending",
				Usage:  "List requests awaiting the caller over gRPC",
				Flags:  clientFlags(),
				Action: listPending,
			},
			{
				Name:      "decide",
				Usage:     "Approve or reject a request over gRPC",
				ArgsUsage: "<request-id> <approved|rejected>",
				Flags: append(clientFlags(),
					&cli.StringFlag{Name: "comment", Usage: "Decision comment"},
					&cli.Int64Flag{Name: "node-id", Usage: "Node the decision targets; rejected if no longer pending"},
				),
				Action: decide,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "oa-server: %v\n", err)
		os.Exit(1)
	}
}
