package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/manpreetbhatti/waveboard/internal/api"
	"github.com/manpreetbhatti/waveboard/internal/auth"
	"github.com/manpreetbhatti/waveboard/internal/config"
	"github.com/manpreetbhatti/waveboard/internal/db"
	"github.com/manpreetbhatti/waveboard/internal/discovery"
	"github.com/manpreetbhatti/waveboard/internal/janitor"
	"github.com/manpreetbhatti/waveboard/internal/logger"
	"github.com/manpreetbhatti/waveboard/internal/ratelimit"
	"github.com/manpreetbhatti/waveboard/internal/room"
	"github.com/manpreetbhatti/waveboard/internal/ws"
)

func main() {
	configPath := pflag.StringP("config", "c", "waveboard.yaml", "path to the YAML config file")
	port := pflag.StringP("port", "p", "", "listen port, overrides the config file")
	browse := pflag.Bool("browse", false, "list relays advertised on the local network and exit")
	pflag.Parse()

	if *browse {
		addrs, err := discovery.Browse(context.Background(), 3*time.Second)
		if err != nil {
			fmt.Fprintf(os.Stderr, "browse: %v\n", err)
			os.Exit(1)
		}
		for _, a := range addrs {
			fmt.Println(a)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err == nil && *port != "" {
		cfg.Server.Port = *port
		err = config.Validate(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer database.Close()

	tokens := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, api.IdentityLookup(database))

	registry := room.NewRegistry()
	hub := ws.NewHub(registry, tokens, ws.Options{
		MaxMessageBytes:   cfg.Relay.MaxMessageBytes,
		MessagesPerSecond: cfg.Relay.MessagesPerSecond,
		MessageBurst:      cfg.Relay.MessageBurst,
		SendBuffer:        cfg.Relay.SendBuffer,
	}, log.With().Str("component", "hub").Logger())
	go hub.Run()
	defer hub.Stop()

	sweeper := janitor.New(registry, janitor.Config{
		Interval:    cfg.Janitor.Interval,
		SnapshotTTL: cfg.Janitor.SnapshotTTL,
	}, log.With().Str("component", "janitor").Logger())
	sweeper.Start()
	defer sweeper.Stop()

	limiter := ratelimit.NewClientLimiters(cfg.Server.RequestsPerMin, cfg.Server.BurstSize)
	defer limiter.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWs)
	api.New(hub, database, tokens, log.With().Str("component", "api").Logger()).Register(mux, limiter)

	if cfg.Discovery.MDNS {
		adv, err := discovery.Advertise(cfg.Discovery.Instance, cfg.Port())
		if err != nil {
			log.Warn().Err(err).Msg("mDNS advertisement disabled")
		} else {
			defer adv.Shutdown()
			log.Info().Str("service", discovery.ServiceType).Msg("advertising on the local network")
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           corsMiddleware(cfg.Server.AllowedOrigin, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().Str("port", cfg.Server.Port).Str("database", cfg.Database.Path).Msg("🌊 Waveboard server starting")
	log.Info().Msg("Endpoints:")
	log.Info().Msg("  - WebSocket: /ws")
	log.Info().Msg("  - Health:    GET /health")
	log.Info().Msg("  - Stats:     GET /api/stats")
	log.Info().Msg("  - Sockets:   GET /api/socket-status")
	log.Info().Msg("  - Users:     POST /api/users/register, POST /api/users/login, GET /api/users")
	log.Info().Msg("  - Canvases:  GET /api/canvas/profile, POST /api/canvas/create")
	log.Info().Msg("  - Canvas:    GET/PUT/DELETE /api/canvas/{id}")
	log.Info().Msg("  - Share:     PUT /api/canvas/share/{id}")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-sigChan:
		log.Info().Stringer("signal", sig).Msg("Shutting down server...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func corsMiddleware(origin string, next http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", strings.Join([]string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
		}, ", "))
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
