package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/veilstate/veilstate/log"
	"github.com/veilstate/veilstate/prover"
	"github.com/veilstate/veilstate/runtime"
	"github.com/veilstate/veilstate/service"
	"github.com/veilstate/veilstate/storage"
)

func main() {
	app := &cli.App{
		Name:  "veilstated",
		Usage: "privacy-preserving ledger state engine daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Usage: "Data directory", Value: defaultDataDir(), EnvVars: []string{"VEILSTATE_DATADIR"}},
			&cli.StringFlag{Name: "host", Usage: "API listen host", Value: "0.0.0.0", EnvVars: []string{"VEILSTATE_HOST"}},
			&cli.IntFlag{Name: "port", Usage: "API listen port", Value: 9090, EnvVars: []string{"VEILSTATE_PORT"}},
			&cli.StringFlag{Name: "loglevel", Usage: "Log level (debug, info, warn, error)", Value: "info", EnvVars: []string{"VEILSTATE_LOGLEVEL"}},
			&cli.StringFlag{Name: "redis-url", Usage: "Redis URL for the proof job queue (local db queue when empty)", EnvVars: []string{"VEILSTATE_REDIS_URL"}},
			&cli.DurationFlag{Name: "prover-poll", Usage: "Prover queue poll interval", Value: 500 * time.Millisecond, EnvVars: []string{"VEILSTATE_PROVER_POLL"}},
			&cli.BoolFlag{Name: "no-prover", Usage: "Disable the background prover worker", EnvVars: []string{"VEILSTATE_NO_PROVER"}},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".veilstate"
	}
	return filepath.Join(home, ".veilstate")
}

func run(c *cli.Context) error {
	log.Init(c.String("loglevel"), "stdout", nil)

	datadir := c.String("datadir")
	if err := os.MkdirAll(datadir, 0o750); err != nil {
		return fmt.Errorf("cannot create data directory: %w", err)
	}
	database, err := metadb.New(db.TypePebble, filepath.Join(datadir, "veilstate"))
	if err != nil {
		return fmt.Errorf("cannot open database: %w", err)
	}

	store := storage.New(database)
	instances := storage.NewInstanceDB(database)
	registry, err := storage.NewRegistryTree(database)
	if err != nil {
		return err
	}

	// Proof job queue: redis when configured, the local database otherwise.
	var queue prover.Queue
	if redisURL := c.String("redis-url"); redisURL != "" {
		rq, err := prover.NewRedisQueue(redisURL)
		if err != nil {
			return fmt.Errorf("cannot connect to redis: %w", err)
		}
		defer func() {
			if err := rq.Close(); err != nil {
				log.Warnw("cannot close redis queue", "error", err.Error())
			}
		}()
		queue = rq
	} else {
		queue = prover.NewDBQueue(store)
	}

	engine := runtime.New(instances, registry, queue)
	backend := prover.NewGroth16Backend()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !c.Bool("no-prover") {
		proverSrv := service.NewProver(queue, backend, c.Duration("prover-poll"))
		if err := proverSrv.Start(ctx); err != nil {
			return fmt.Errorf("cannot start prover: %w", err)
		}
		defer proverSrv.Stop()
	}

	apiSrv := service.NewAPI(engine, store, backend, c.String("host"), c.Int("port"))
	if err := apiSrv.Start(ctx); err != nil {
		return fmt.Errorf("cannot start API: %w", err)
	}
	defer apiSrv.Stop()

	log.Infow("veilstated running",
		"datadir", datadir,
		"host", c.String("host"),
		"port", c.Int("port"),
		"instances", len(mustList(instances)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	return nil
}

func mustList(instances *storage.InstanceDB) []string {
	ids, err := instances.List()
	if err != nil {
		return nil
	}
	list := make([]string, 0, len(ids))
	for _, id := range ids {
		list = append(list, id.String())
	}
	return list
}
