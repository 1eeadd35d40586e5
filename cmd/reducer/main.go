// Command reducer runs the single authoritative writer process of §4.7: it
// owns the Game aggregate, applies actions against SQL, and broadcasts the
// resulting events to every worker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"

	"github.com/pku-geekgame/ctf-core/internal/adminhttp"
	"github.com/pku-geekgame/ctf-core/internal/config"
	"github.com/pku-geekgame/ctf-core/internal/cryptoutil"
	"github.com/pku-geekgame/ctf-core/internal/dynflag"
	"github.com/pku-geekgame/ctf-core/internal/glitter"
	"github.com/pku-geekgame/ctf-core/internal/logging"
	"github.com/pku-geekgame/ctf-core/internal/metrics"
	"github.com/pku-geekgame/ctf-core/internal/reducer"
	"github.com/pku-geekgame/ctf-core/internal/store"
	"github.com/pku-geekgame/ctf-core/internal/store/migrations"
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

	if err := migrations.Apply(db); err != nil {
		log.WithError(err).Fatal("apply migrations")
	}

	stdoutLevels := logging.ParseLevelSet(cfg.StdoutLogLevel)
	pushLevels := logging.ParseLevelSet(cfg.PushLogLevel)
	log.AddHook(logging.NewStoreSink(db, "reducer", stdoutLevels, pushLevels, func(level, module, message string) {
		log.WithField("module", module).Debugf("push (%s): %s", level, message)
	}))

	met := metrics.New("reducer")

	signingKey, err := cryptoutil.GenerateSigningKey()
	if err != nil {
		log.WithError(err).Fatal("generate signing key")
	}

	events := glitter.NewEventServer(zerolog.New(os.Stdout).With().Str("module", "glitter.event_server").Logger())

	red := reducer.New(reducer.Config{
		SSRFToken:       cfg.SSRFToken,
		MainBoardGroups: cfg.MainBoardGroups,
		FlagLeetSalt:    cfg.FlagLeetSalt,
		Signer:          cryptoutil.NewSigner(signingKey),
		DynamicFlagGen:  dynflag.New().Generate,
	}, db, events, log, met)

	if err := red.Bootstrap(ctx); err != nil {
		log.WithError(err).Fatal("bootstrap reducer")
	}

	go red.Run(ctx)
	go red.RunTickDaemon(ctx)
	go red.RunHealthDaemon(ctx, 10*time.Second)

	actions := glitter.NewActionServer(
		zerolog.New(os.Stdout).With().Str("module", "glitter.action_server").Logger(),
		func(req glitter.ActionRequest) glitter.ActionReply { return red.Submit(req) },
	)

	actionMux := http.NewServeMux()
	actionMux.Handle("/action", actions)
	actionSrv := &http.Server{Addr: cfg.GlitterActionAddr, Handler: actionMux}

	eventMux := http.NewServeMux()
	eventMux.Handle("/events", events)
	eventSrv := &http.Server{Addr: cfg.GlitterEventAddr, Handler: eventMux}

	go func() {
		log.WithField("module", "main").Infof("action channel listening on %s", cfg.GlitterActionAddr)
		if err := actionSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("action channel server")
		}
	}()
	go func() {
		log.WithField("module", "main").Infof("event channel listening on %s", cfg.GlitterEventAddr)
		if err := eventSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("event channel server")
		}
	}()

	admin := adminhttp.New(cfg.AdminHTTPAddr, red, log)
	go func() {
		if err := admin.ListenAndServe(ctx); err != nil {
			log.WithError(err).Error("admin HTTP server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.WithField("module", "main").Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = actionSrv.Shutdown(shutdownCtx)
	_ = eventSrv.Shutdown(shutdownCtx)
}
