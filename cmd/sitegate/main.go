package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitegate/internal/config"
	"sitegate/internal/gate"
	"sitegate/internal/metrics"
	"sitegate/internal/proxy"
	"sitegate/internal/util"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// CLI flag support for config path
	configFlag := flag.String("config", "", "path to config file (overrides SITEGATE_CONFIG env var)")
	flag.Parse()

	// Determine config path: CLI flag > env var > default
	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = os.Getenv("SITEGATE_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = "./config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Logging.Level == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Startup configuration summary. The password itself is never logged.
	log.Info().
		Str("config_path", cfgPath).
		Str("log_level", cfg.Logging.Level).
		Str("listen", cfg.Server.Listen).
		Str("ops_listen", cfg.Server.OpsListen).
		Bool("tls_enabled", cfg.Server.TLSEnabled).
		Int("trusted_proxies", len(cfg.Server.TrustedProxyCIDRs)).
		Msg("server configuration")
	log.Info().
		Str("site", cfg.Site.Name).
		Str("mode", cfg.Auth.Mode).
		Bool("gate_enabled", cfg.GateEnabled()).
		Str("login_path", cfg.Auth.LoginPath).
		Str("logout_path", cfg.Auth.LogoutPath).
		Str("cookie", cfg.Cookie.Name).
		Int("cookie_max_age_sec", cfg.Cookie.MaxAgeSec).
		Msg("gate configuration")
	if !cfg.GateEnabled() {
		log.Warn().Msg("no password configured; all requests are forwarded without authentication")
	}

	proxyHandler, err := proxy.NewHandler(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create origin handler")
	}
	log.Info().Str("origin", proxyHandler.Origin()).Msg("origin configured")

	g, err := gate.New(cfg, proxyHandler, gate.WithFingerprinter(util.NewFingerprinter(cfg.Logging.IPHashKey)))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gate")
	}

	metrics.MustRegister()

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           newPublicHandler(cfg, g),
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutMs) * time.Millisecond,
	}

	// Health and metrics stay off the gated listener
	var opsSrv *http.Server
	if cfg.OpsEnabled() {
		opsSrv = &http.Server{
			Addr:              cfg.Server.OpsListen,
			Handler:           newOpsHandler(cfg, g, proxyHandler),
			ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
			WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		}
	}

	// Graceful shutdown setup
	serverErrors := make(chan error, 2)
	if opsSrv != nil {
		go func() {
			log.Info().Str("listen", cfg.Server.OpsListen).Msg("operational endpoints listening")
			serverErrors <- opsSrv.ListenAndServe()
		}()
	} else {
		log.Info().Msg("operational listener disabled")
	}
	go func() {
		log.Info().Str("listen", cfg.Server.Listen).Msg("sitegate listening")
		if cfg.Server.TLSEnabled {
			log.Info().
				Str("cert", cfg.Server.TLSCertFile).
				Str("key", cfg.Server.TLSKeyFile).
				Msg("starting with TLS")
			serverErrors <- srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			if cfg.Cookie.Secure {
				log.Warn().Msg("serving plain HTTP with a Secure cookie; terminate TLS in front of sitegate")
			}
			serverErrors <- srv.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatal().Err(err).Msg("server error")
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed, forcing close")
			srv.Close()
		}
		if opsSrv != nil {
			if err := opsSrv.Shutdown(ctx); err != nil {
				opsSrv.Close()
			}
		}
		if err := proxyHandler.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("proxy shutdown error")
		}

		log.Info().Msg("shutdown complete")
	}
}
