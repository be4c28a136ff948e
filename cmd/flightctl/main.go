package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/flightctl/internal/api"
	"codeberg.org/mutker/flightctl/internal/config"
	"codeberg.org/mutker/flightctl/internal/errors"
	"codeberg.org/mutker/flightctl/internal/fanout"
	"codeberg.org/mutker/flightctl/internal/logger"
	"codeberg.org/mutker/flightctl/internal/packet"
	"codeberg.org/mutker/flightctl/internal/pid"
	"codeberg.org/mutker/flightctl/internal/session"
	"codeberg.org/mutker/flightctl/internal/storage"
	"codeberg.org/mutker/flightctl/internal/transport"
)

const stopTimeout = 5 * time.Second

var (
	cfg  *config.Config
	repo storage.Gateway
)

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if cfg.ListPorts {
		listPorts()
		return
	}

	if err := pid.Write(cfg.PIDFile); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) && coded.Code() == errors.ErrAlreadyRunning {
			logger.FatalWithCode(coded).Str("pid_file", cfg.PIDFile).Msg("flightctl is already running")
		}
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer removePID()

	var err error
	repo, err = storage.NewService(storage.Config{
		DBPath:    cfg.Database,
		BackupDir: cfg.BackupDir,
	}, logger.Get().With("component", "storage"))
	if err != nil {
		removePID()
		logger.Fatal().Err(err).Msg("failed to open flight database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
	}
	cleanup()
}

func run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := fanout.NewHub(cfg.SubscriberBuffer, logger.Get().With("component", "fanout"))
	state := session.NewState()

	resolver := packet.NewResolver(repo, hub, state, logger.Get().With("component", "resolver"))
	aggregator := packet.NewAggregator(cfg.QuietPeriod, resolver.HandlePacket, logger.Get().With("component", "aggregator"))

	manager := session.NewManager(state, session.Config{
		Opener:      transport.SerialOpener{},
		OpenTimeout: cfg.OpenTimeout,
		Store:       repo,
		Publisher:   hub,
		Sink:        aggregator.Push,
		Lines:       resolver,
	}, logger.Get().With("component", "session"))

	server := api.NewServer(api.Config{
		Listen:   cfg.Listen,
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
	}, manager, repo, hub, logger.Get().With("component", "api"))

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		aggregator.Run(ctx)
	}()

	err := server.ListenAndServe(ctx)

	// The flight is stopped before the aggregator drains, so a packet still
	// open at shutdown is discarded like any other idle input.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	manager.Shutdown(stopCtx)

	cancel()
	<-pipelineDone

	return err
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup() {
	if err := repo.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close flight database")
	}
	logger.Info().Msg("Exiting...")
}

func removePID() {
	if err := pid.Remove(cfg.PIDFile); err != nil {
		logger.Error().Err(err).Msg("failed to remove PID file")
	}
}

func listPorts() {
	ports, err := transport.Ports()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to list serial ports")
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return
	}
	for _, p := range ports {
		fmt.Println(p)
	}
}
