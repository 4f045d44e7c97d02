// Command cdk-ingestd wires the batch ingestion pipeline and the L1
// finality pipeline together for local/manual operation, following
// turbo/cli's use of urfave/cli/v2 for the teacher's own binaries.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerwatch/log/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gateway-fm/cdk-ingestion/assembler"
	"github.com/gateway-fm/cdk-ingestion/datastream"
	"github.com/gateway-fm/cdk-ingestion/datastream/fssource"
	"github.com/gateway-fm/cdk-ingestion/datastream/grpcsource"
	"github.com/gateway-fm/cdk-ingestion/datastream/httpsource"
	"github.com/gateway-fm/cdk-ingestion/datastream/wssource"
	"github.com/gateway-fm/cdk-ingestion/engine"
	"github.com/gateway-fm/cdk-ingestion/finality"
	"github.com/gateway-fm/cdk-ingestion/mapping"
	"github.com/gateway-fm/cdk-ingestion/observe"
	"github.com/gateway-fm/cdk-ingestion/orchestrator"
	"github.com/gateway-fm/cdk-ingestion/rpcext"
	"github.com/gateway-fm/cdk-ingestion/validator"
	"github.com/spf13/afero"
)

// exit codes per the pipeline's operational contract.
const (
	exitOK           = 0
	exitUnrecoverable = 1
	exitConfigError  = 2
	exitCancelled    = 130
)

// Config holds cdk-ingestd's runtime configuration. It is a plain
// struct filled directly from CLI flags; no generic config-loading
// framework is in scope.
type Config struct {
	SourceKind     string
	SourceURL      string
	SourceAPIKey   string
	FsDir          string
	FsExtension    string
	L1RpcURL       string
	MappingDBPath  string
	RPCListenAddr  string
	PollInterval   time.Duration
	EpochBlockSpan uint64
	LogDir         string
}

func main() {
	app := &cli.App{
		Name:  "cdk-ingestd",
		Usage: "runs the L2 batch ingestion and L1 finality pipelines",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source.kind", Value: "http", Usage: "http, ws, grpc or fs"},
			&cli.StringFlag{Name: "source.url", Usage: "data stream source URL or gRPC target"},
			&cli.StringFlag{Name: "source.api-key"},
			&cli.StringFlag{Name: "source.fs-dir", Value: "./batches"},
			&cli.StringFlag{Name: "source.fs-extension", Value: ".json"},
			&cli.StringFlag{Name: "l1.rpc-url"},
			&cli.StringFlag{Name: "mapping.db-path", Value: "./mapping.db"},
			&cli.StringFlag{Name: "rpc.listen-addr", Value: "127.0.0.1:8585"},
			&cli.DurationFlag{Name: "poll-interval", Value: 2 * time.Second},
			&cli.Uint64Flag{Name: "epoch.block-span", Value: 100},
			&cli.StringFlag{Name: "log.dir"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ce, ok := err.(*configError); ok {
			_ = ce
			os.Exit(exitConfigError)
		}
		os.Exit(exitUnrecoverable)
	}
}

type configError struct{ msg string }

func (e *configError) Error() string { return e.msg }

func configFromContext(c *cli.Context) (*Config, error) {
	cfg := &Config{
		SourceKind:     c.String("source.kind"),
		SourceURL:      c.String("source.url"),
		SourceAPIKey:   c.String("source.api-key"),
		FsDir:          c.String("source.fs-dir"),
		FsExtension:    c.String("source.fs-extension"),
		L1RpcURL:       c.String("l1.rpc-url"),
		MappingDBPath:  c.String("mapping.db-path"),
		RPCListenAddr:  c.String("rpc.listen-addr"),
		PollInterval:   c.Duration("poll-interval"),
		EpochBlockSpan: c.Uint64("epoch.block-span"),
		LogDir:         c.String("log.dir"),
	}

	switch cfg.SourceKind {
	case "http", "ws", "grpc":
		if cfg.SourceURL == "" {
			return nil, &configError{msg: "source.url is required for source.kind=" + cfg.SourceKind}
		}
	case "fs":
	default:
		return nil, &configError{msg: "unknown source.kind: " + cfg.SourceKind}
	}
	if cfg.L1RpcURL == "" {
		return nil, &configError{msg: "l1.rpc-url is required"}
	}
	return cfg, nil
}

func setupLogger(cfg *Config) log.Logger {
	logger := log.Root()
	if cfg.LogDir != "" {
		consoleHandler := log.StreamHandler(os.Stderr, log.TerminalFormatNoColor())
		dirHandler := log.StreamHandler(&lumberjack.Logger{
			Filename:   cfg.LogDir + "/cdk-ingestd.log",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
		}, log.TerminalFormatNoColor())
		logger.SetHandler(log.MultiHandler(consoleHandler, dirHandler))
	}
	return logger
}

func buildSource(cfg *Config, checkpointStorage datastream.CheckpointStorage, logger log.Logger) (datastream.BatchSource, error) {
	switch cfg.SourceKind {
	case "http":
		opts := []httpsource.Option{httpsource.WithLogger(logger)}
		if cfg.SourceAPIKey != "" {
			opts = append(opts, httpsource.WithAPIKey(cfg.SourceAPIKey))
		}
		return httpsource.New(cfg.SourceURL, checkpointStorage, opts...), nil
	case "ws":
		return wssource.New(cfg.SourceURL, checkpointStorage, logger), nil
	case "grpc":
		return grpcsource.New(cfg.SourceURL, checkpointStorage), nil
	case "fs":
		return fssource.New(afero.NewOsFs(), cfg.FsDir, cfg.FsExtension, checkpointStorage), nil
	default:
		return nil, &configError{msg: "unknown source.kind: " + cfg.SourceKind}
	}
}

func run(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	registry := prometheus.NewRegistry()
	recorder := observe.NewRecorder(registry)

	storage, err := mapping.OpenBoltStorage(cfg.MappingDBPath)
	if err != nil {
		return fmt.Errorf("open mapping storage: %w", err)
	}
	mapper := mapping.NewManager(storage)

	checkpointStorage := datastream.NewMemoryCheckpointStorage()
	source, err := buildSource(cfg, checkpointStorage, logger)
	if err != nil {
		return err
	}

	l1Client := finality.NewL1Client(cfg.L1RpcURL, logger)
	oracle := finality.NewOracle(l1Client, l1Client, finality.Metadata{Name: "cdk-ingestd"}, logger)
	oracle.SetPollingInterval(cfg.PollInterval)
	rollbackManager := finality.NewRollbackManager(finality.DefaultRollbackConfig(), mapper)

	eng := engine.NewMemoryEngine()
	orch := orchestrator.New()
	orch.Source = source
	orch.Validator = validator.New()
	orch.Assembler = assembler.New()
	orch.Engine = eng
	orch.Mapper = mapper
	orch.Checkpoint = checkpointStorage
	orch.Oracle = oracle
	orch.Rollback = rollbackManager
	orch.Metrics = recorder
	orch.Logger = logger
	orch.PollInterval = cfg.PollInterval
	orch.EpochBlockSpan = cfg.EpochBlockSpan

	server := rpcext.NewServer(mapper, oracle, logger)
	httpSrv := &http.Server{Addr: cfg.RPCListenAddr, Handler: server.Handler()}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.RunIngestion(gctx) })
	g.Go(func() error { return orch.RunFinality(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return httpSrv.Close()
	})
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	err = g.Wait()
	if ctx.Err() != nil {
		os.Exit(exitCancelled)
	}
	return err
}
