// Command worker runs a read-only projection-maintaining process of §4.8:
// it mirrors the reducer's Game aggregate from the event stream and serves
// PerformAction/local-subscriber consumers (a WebSocket push frontend, the
// optional police monitor).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"

	"github.com/pku-geekgame/ctf-core/internal/config"
	"github.com/pku-geekgame/ctf-core/internal/dynflag"
	"github.com/pku-geekgame/ctf-core/internal/glitter"
	"github.com/pku-geekgame/ctf-core/internal/logging"
	"github.com/pku-geekgame/ctf-core/internal/metrics"
	"github.com/pku-geekgame/ctf-core/internal/store"
	"github.com/pku-geekgame/ctf-core/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid config")
	}

	log := logging.New(logging.Config{Level: cfg.StdoutLogLevel, Format: "text"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg.DBConnector)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer db.Close()

	repo := store.NewRepo(db)
	met := metrics.New("worker")

	actionAddr := fmt.Sprintf("http://%s/action", cfg.GlitterActionAddr)
	eventAddr := fmt.Sprintf("ws://%s/events", cfg.GlitterEventAddr)
	zlog := zerolog.New(os.Stdout).With().Str("module", "glitter.event_client").Logger()

	dial := func(dialCtx context.Context) (*glitter.EventClient, error) {
		return glitter.DialEventChannel(dialCtx, eventAddr, zlog)
	}

	conn, err := dial(ctx)
	if err != nil {
		log.WithError(err).Fatal("dial event channel")
	}

	w := worker.New(worker.Config{
		SSRFToken:       cfg.SSRFToken,
		ClientName:      workerClientName(),
		MainBoardGroups: cfg.MainBoardGroups,
		FlagLeetSalt:    cfg.FlagLeetSalt,
		DynamicFlagGen:  dynflag.New().Generate,
		PoliceEnabled:   cfg.PoliceEnabled,
	}, repo, glitter.NewActionClient(actionAddr), conn, dial, log, met)

	if err := w.Bootstrap(ctx); err != nil {
		log.WithError(err).Fatal("bootstrap worker")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.WithField("module", "main").Info("shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Fatal("worker run loop exited")
		}
	}
}

func workerClientName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
