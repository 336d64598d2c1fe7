// Command crawlctl is the operator CLI for an already-running crawler,
// mirroring lncli's urfave/cli command layout: one subcommand per
// administrative operation against the peer store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/btcrawl/crawlyd/internal/clockrand"
	"github.com/btcrawl/crawlyd/internal/peerstore"
	"github.com/btcrawl/crawlyd/internal/seed"
)

func main() {
	app := cli.NewApp()
	app.Name = "crawlctl"
	app.Usage = "control plane for a running crawlyd peer store"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "peerstoredsn",
			Usage:  "Postgres connection string for the peer store",
			EnvVar: "CRAWLYD_PEERSTORE_DSN",
		},
	}
	app.Commands = []cli.Command{
		statsCommand,
		pruneCommand,
		reseedCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "[crawlctl]", err)
		os.Exit(1)
	}
}

func openStore(ctx *cli.Context) (*peerstore.Postgres, error) {
	dsn := ctx.GlobalString("peerstoredsn")
	if dsn == "" {
		return nil, fmt.Errorf("peerstoredsn is required (flag or CRAWLYD_PEERSTORE_DSN)")
	}
	return peerstore.Open(context.Background(), dsn, clockrand.New())
}

var statsCommand = cli.Command{
	Name:  "stats",
	Usage: "print a summary of the peer store's current contents",
	Action: func(ctx *cli.Context) error {
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("total peers:     %d\n", stats.Total)
		fmt.Printf("reachable:       %d\n", stats.Reachable)
		fmt.Println("by type:")
		for _, tc := range stats.ByType {
			fmt.Printf("  %-10s %d\n", tc.Type, tc.Count)
		}
		return nil
	},
}

var pruneCommand = cli.Command{
	Name:  "prune",
	Usage: "delete peers not detected within the last 48 hours",
	Action: func(ctx *cli.Context) error {
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.CleanDB(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("removed %d stale peers\n", n)
		return nil
	},
}

var reseedCommand = cli.Command{
	Name:  "reseed",
	Usage: "resolve the compiled-in DNS seed list and upsert every endpoint, regardless of store size",
	Action: func(ctx *cli.Context) error {
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		resolver, err := seed.NewResolver()
		if err != nil {
			return err
		}

		bgCtx := context.Background()
		endpoints := resolver.ResolveAll(bgCtx)
		if len(endpoints) == 0 {
			return fmt.Errorf("dns seeding resolved no endpoints")
		}

		if err := store.BatchUpsert(bgCtx, endpoints); err != nil {
			return err
		}

		fmt.Printf("upserted %d seed endpoints\n", len(endpoints))
		return nil
	},
}
