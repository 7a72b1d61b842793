package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikmy/usertxn/internal/api"
	"github.com/nikmy/usertxn/internal/backend"
	"github.com/nikmy/usertxn/internal/pubsub"
	"github.com/nikmy/usertxn/internal/session"
	"github.com/nikmy/usertxn/pkg/errors"
	"github.com/nikmy/usertxn/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		stdlog.Fatal(err)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		stdlog.Fatal(errors.WrapFail(err, "load config"))
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		stdlog.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = run(ctx, cfg, log)
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, log logger.Logger) error {
	store, err := backend.New(ctx, cfg.Backend, log)
	if err != nil {
		return errors.WrapFail(err, "init backend")
	}

	txnOpts, err := cfg.Sessions.Txn.Options()
	if err != nil {
		return errors.WrapFail(err, "init transaction options")
	}

	sessions := session.NewRegistry(store, log, txnOpts...)

	stopEvents := func() error { return nil }
	if cfg.Events.Enabled() {
		events := pubsub.NewKafkaProducer(cfg.Events, log)
		sessions.WithEvents(events)
		stopEvents = startEvents(events)
	}

	reaper := session.NewReaper(sessions, cfg.Sessions.ReapInterval, cfg.Sessions.MaxIdle)
	server := api.NewServer(cfg.API, log, sessions)

	go func() {
		_ = reaper.Run(ctx)
	}()

	log.Infof("listening on %s", cfg.API.HTTP.Addr)
	serveErr := server.Serve(ctx)
	if serveErr != nil {
		serveErr = errors.WrapFail(serveErr, "serve http")
	}

	log.Infof("graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// the server closes every session, so events go last
	return errors.Collapse(
		serveErr,
		errors.WrapFail(server.Shutdown(shutdownCtx), "shutdown server"),
		stopEvents(),
		errors.WrapFail(store.Close(shutdownCtx), "close backend"),
	)
}
