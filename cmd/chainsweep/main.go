// Command chainsweep drives the scanner from the CLI: run a single scan
// cycle, locate a contract's creation block, or serve the HTTP job surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chainsweep/internal/api"
	"chainsweep/internal/cache"
	"chainsweep/internal/chain"
	"chainsweep/internal/config"
	"chainsweep/internal/locator"
	"chainsweep/internal/metrics"
	"chainsweep/internal/progress"
	"chainsweep/internal/scan"
	"chainsweep/internal/sink"
)

var configPath string

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	root := &cobra.Command{
		Use:   "chainsweep",
		Short: "Resumable, reorg-aware blockchain event scanner",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	root.AddCommand(scanCmd(), locateCreationCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("interrupt received, shutting down gracefully…")
		cancel()
	}()
	return ctx, cancel
}

type deps struct {
	cfg     *config.Config
	client  *chain.Client
	store   progress.Store
	loc     *locator.Locator
	rec     *metrics.Recorder
	csv     sink.Exporter
	redisDB *redis.Client
}

// build wires every collaborator a scan needs out of the loaded config:
// chain client, progress store, creation-block cache, metrics and the
// optional CSV exporter.
func build(ctx context.Context) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	client, err := chain.Dial(ctx, cfg.RPCURL, chain.DialRetry{
		Attempts: cfg.Scan.MaxRetries,
		Delay:    time.Duration(cfg.Scan.RetryDelaySeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing rpc: %w", err)
	}

	var store progress.Store
	switch cfg.Storage.Type {
	case "mongo":
		mongoStore, err := progress.NewMongoStore(ctx, cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("connecting mongo store: %w", err)
		}
		store = mongoStore
	case "sqlite":
		sqliteStore, err := progress.NewSQLiteStore(cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		store = sqliteStore
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Storage.Type)
	}
	store = progress.NewRetryStore(store, cfg.Scan.MaxRetries, time.Duration(cfg.Scan.RetryDelaySeconds)*time.Second)

	var creationCache cache.CreationBlockCache = cache.NoopCreationBlockCache{}
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		creationCache = cache.NewRedisCreationBlockCache(rdb, 0)
	}
	loc := locator.New(client, creationCache)

	rec := metrics.NewRecorder(prometheus.DefaultRegisterer)

	var exporter sink.Exporter
	if cfg.Storage.CSV.Enabled {
		csvExp, err := sink.NewCSVExporter(cfg.Storage.CSV.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("initializing csv exporter: %w", err)
		}
		exporter = sink.NewRetryExporter(csvExp, cfg.Scan.MaxRetries, time.Duration(cfg.Scan.RetryDelaySeconds)*time.Second)
	}

	return &deps{cfg: cfg, client: client, store: store, loc: loc, rec: rec, csv: exporter, redisDB: rdb}, nil
}

func scanCmd() *cobra.Command {
	var start, end uint64

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan cycle for the configured contract/event",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			d, err := build(ctx)
			if err != nil {
				return err
			}
			defer d.store.Close(ctx)

			schema, err := chain.NewEventSchema(d.cfg.Contract.ParsedABI, d.cfg.Contract.Event)
			if err != nil {
				return err
			}

			svc := scan.NewService(d.client, d.store, d.loc, d.rec, d.csv, d.cfg.Scan)
			address := common.HexToAddress(d.cfg.Contract.Address)

			result, err := svc.Run(ctx, address, schema, start, end)
			if result != nil {
				logrus.WithFields(logrus.Fields{
					"contract": result.Contract, "from": result.FromHeight, "to": result.ToHeight,
					"events_written": result.EventsWritten, "cursor_height": result.CursorHeight,
				}).Info("scan cycle finished")
			}
			return err
		},
	}
	cmd.Flags().Uint64Var(&start, "start", 0, "explicit start height, overriding the durable cursor")
	cmd.Flags().Uint64Var(&end, "end", 0, "explicit end height, defaulting to latest-1")
	return cmd
}

func locateCreationCmd() *cobra.Command {
	var lo, hi uint64

	cmd := &cobra.Command{
		Use:   "locate-creation",
		Short: "Binary-search the configured contract's creation block",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			d, err := build(ctx)
			if err != nil {
				return err
			}
			defer d.store.Close(ctx)

			address := common.HexToAddress(d.cfg.Contract.Address)
			if hi == 0 {
				hi, err = d.client.LatestHeight(ctx)
				if err != nil {
					return err
				}
			}

			height, err := d.loc.Locate(ctx, address, lo, hi)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{"contract": address.Hex(), "creation_block": height}).Info("located")
			return nil
		},
	}
	cmd.Flags().Uint64Var(&lo, "lo", 1, "lower bound of the search (must have no code)")
	cmd.Flags().Uint64Var(&hi, "hi", 0, "upper bound of the search (must have code); defaults to latest height")
	return cmd
}

func serveCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job surface (POST/GET/DELETE /scans, GET /metrics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			d, err := build(ctx)
			if err != nil {
				return err
			}

			svc := scan.NewService(d.client, d.store, d.loc, d.rec, d.csv, d.cfg.Scan)
			srv := api.NewServer(svc, d.cfg.Contract.ParsedABI, d.rec)
			return srv.Run(port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "8080", "HTTP listen port")
	return cmd
}
