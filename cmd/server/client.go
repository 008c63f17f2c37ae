package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	cli "github.com/urfave/cli/v3"

	"github.com/pesio-ai/be-oa-approvals/internal/client"
)

func clientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Usage:   "gRPC address of the service",
			Value:   "localhost:9090",
			Sources: cli.EnvVars("OA_GRPC_ADDR"),
		},
		&cli.StringFlag{
			Name:     "token",
			Usage:    "Bearer token from POST /api/auth/login",
			Required: true,
			Sources:  cli.EnvVars("OA_TOKEN"),
		},
	}
}

func dial(cmd *cli.Command) (*client.ApprovalsGRPCClient, error) {
	c, err := client.NewApprovalsGRPCClient(cmd.String("addr"), cmd.String("token"))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cmd.String("addr"), err)
	}
	return c, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listPending(ctx context.Context, cmd *cli.Command) error {
	c, err := dial(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	items, err := c.GetPendingApprovals(ctx)
	if err != nil {
		return err
	}
	return printJSON(items)
}

func decide(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 2 {
		return fmt.Errorf("usage: decide <request-id> <approved|rejected>")
	}
	id, err := strconv.ParseInt(cmd.Args().Get(0), 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid request id %q", cmd.Args().Get(0))
	}

	c, err := dial(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	out, err := c.Decide(ctx, id, cmd.Args().Get(1), cmd.String("comment"), cmd.Int64("node-id"))
	if err != nil {
		return err
	}
	return printJSON(out)
}
