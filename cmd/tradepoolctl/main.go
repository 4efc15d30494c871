package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tradepool.com/internal/client"
	"tradepool.com/internal/model"
)

const usage = `tradepoolctl - control a running tradepoold

Usage:
  tradepoolctl [flags] deploy    -strategy <name> [-symbol S] [-symbols A,B] [-allocation 0.5] [-config JSON] [-granularity 1m] [-duration 60]
  tradepoolctl [flags] status
  tradepoolctl [flags] pause     -id <strategy_id>
  tradepoolctl [flags] resume    -id <strategy_id>
  tradepoolctl [flags] undeploy  -id <strategy_id>
  tradepoolctl [flags] rebalance -allocations id1=0.5,id2=0.5
  tradepoolctl [flags] shutdown

Flags:
  -state-dir   daemon state directory (default ".tradepool")
`

func main() {
	stateDir := flag.String("state-dir", ".tradepool", "daemon state directory")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	verb, rest := args[0], args[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := client.EnsureDaemon(ctx, *stateDir, client.DefaultDaemonBin(), 3*time.Second)
	if err != nil {
		fatalf("cannot reach daemon: %v", err)
	}

	switch verb {
	case "deploy":
		runDeploy(ctx, c, rest)
	case "status":
		runStatus(ctx, c)
	case "pause":
		runLifecycle(ctx, rest, c.Pause)
	case "resume":
		runLifecycle(ctx, rest, c.Resume)
	case "undeploy":
		runLifecycle(ctx, rest, c.Undeploy)
	case "rebalance":
		runRebalance(ctx, c, rest)
	case "shutdown":
		resp, err := c.Shutdown(ctx)
		printResponse(resp, err)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runDeploy(ctx context.Context, c *client.Client, args []string) {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	strategy := fs.String("strategy", "", "strategy adapter name")
	symbol := fs.String("symbol", "", "symbol the strategy trades")
	symbols := fs.String("symbols", "", "comma-separated session symbols (first deploy)")
	allocation := fs.Float64("allocation", 1.0, "fraction of capital in (0, 1]")
	configJSON := fs.String("config", "", "adapter config as raw JSON")
	granularity := fs.String("granularity", "", "bar granularity (first deploy)")
	duration := fs.Int("duration", 0, "session duration in minutes (first deploy)")
	id := fs.String("id", "", "explicit strategy id")
	fs.Parse(args)

	req := model.DeployRequest{
		DeploySpec: model.DeploySpec{
			ID:         *id,
			Strategy:   *strategy,
			Symbol:     *symbol,
			Allocation: *allocation,
		},
		Granularity:     *granularity,
		DurationMinutes: *duration,
	}
	if *configJSON != "" {
		req.Config = json.RawMessage(*configJSON)
	}
	if *symbols != "" {
		req.Symbols = strings.Split(*symbols, ",")
	}

	resp, err := c.Deploy(ctx, req)
	printResponse(resp, err)
}

func runStatus(ctx context.Context, c *client.Client) {
	status, err := c.Status(ctx)
	if err != nil {
		fatalf("status failed: %v", err)
	}
	out, _ := json.MarshalIndent(status, "", "  ")
	fmt.Println(string(out))
}

func runLifecycle(ctx context.Context, args []string, op func(context.Context, string) (*model.CommandResponse, error)) {
	fs := flag.NewFlagSet("lifecycle", flag.ExitOnError)
	id := fs.String("id", "", "strategy id")
	fs.Parse(args)
	if *id == "" {
		fatalf("-id is required")
	}

	resp, err := op(ctx, *id)
	printResponse(resp, err)
}

func runRebalance(ctx context.Context, c *client.Client, args []string) {
	fs := flag.NewFlagSet("rebalance", flag.ExitOnError)
	raw := fs.String("allocations", "", "comma-separated id=pct pairs")
	fs.Parse(args)

	allocations := make(map[string]float64)
	for _, pair := range strings.Split(*raw, ",") {
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			fatalf("invalid allocation pair: %s", pair)
		}
		pct, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			fatalf("invalid allocation value in %s: %v", pair, err)
		}
		allocations[parts[0]] = pct
	}
	if len(allocations) == 0 {
		fatalf("-allocations is required")
	}

	resp, err := c.Rebalance(ctx, allocations)
	printResponse(resp, err)
}

func printResponse(resp *model.CommandResponse, err error) {
	if err != nil {
		fatalf("%v", err)
	}
	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))
	if !resp.Success {
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
