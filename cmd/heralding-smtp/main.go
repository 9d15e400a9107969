package main

import (
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-errors/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/KavitaSah/heralding/config"
	"github.com/KavitaSah/heralding/session"
	"github.com/KavitaSah/heralding/smtpd"
)

var configFileName string

func main() {
	flag.StringVar(&configFileName, "config", "", "configuration file (yaml, toml or json), defaults and HERALDING_* environment when empty")
	flag.Parse()

	var cfg *config.Config
	if configFileName == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.Load(configFileName); err != nil {
			panic(err)
		}
	}
	logger, err := cfg.Logger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			logger.Error("honeypot stopped", zap.Error(err), zap.String("stack", e.ErrorStack()))
		} else {
			logger.Error("honeypot stopped", zap.Error(err))
		}
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	opts := []session.Option{session.WithAccounts(cfg.Sessions.Accounts)}
	if cfg.Sessions.ReverseDNS != "" {
		timeout := time.Duration(cfg.Sessions.ReverseDNSTimeout) * time.Second
		opts = append(opts, session.WithResolver(session.NewResolver(cfg.Sessions.ReverseDNS, timeout)))
	}
	sessions := session.NewManager(logger.Named("session"), opts...)
	defer sessions.Close()

	open := func(remote net.Addr) smtpd.Session {
		return sessions.Open(remote)
	}
	server, err := smtpd.NewServer(&cfg.Server, open, &smtpd.DiscardSink{Log: logger.Named("sink")}, logger.Named("smtp"))
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error("metrics endpoint", zap.Error(err))
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Info("shutting down",
			zap.Stringer("signal", sig),
			zap.Int("connections", server.Active()),
			zap.Int("sessions", sessions.Active()),
		)
		server.Close()
	}()

	err = server.ListenAndServe()
	if errors.Is(err, smtpd.ErrServerClosed) {
		return nil
	}
	return err
}
