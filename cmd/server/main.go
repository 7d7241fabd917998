package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/auth"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/config"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/correlator"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/hub"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/room"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/server"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/store"
)

// backend is a store that can also hold login credentials.
type backend interface {
	store.Store
	store.Accounts
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	var st backend
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database: ", err)
		}
		st = pg
		log.Println("Using PostgreSQL store")
	} else {
		st = store.NewMemory()
		log.Println("DATABASE_URL not set, using in-memory store")
	}

	writer := store.NewWriter(st, store.DefaultWriterConfig())
	writer.Start(context.Background())

	var outbox hub.Outbox
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ro := hub.NewRedisOutbox(client, "tictac:outbox:")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := ro.Ping(ctx); err != nil {
			log.Fatal("Failed to connect to redis: ", err)
		}
		cancel()
		outbox = ro
		log.Printf("Using redis outbox at %s", cfg.RedisAddr)
	} else {
		outbox = hub.NewMemoryOutbox()
	}

	hcfg := hub.DefaultConfig()
	hcfg.PingInterval = cfg.PingInterval
	hcfg.AckTimeout = cfg.AckTimeout
	hcfg.AckMaxRetries = cfg.AckMaxRetries
	hcfg.AckRetention = cfg.AckRetention
	hcfg.OutboxTTL = cfg.OutboxTTL
	hcfg.InvitationTTL = cfg.InvitationTTL
	h := hub.New(hcfg, outbox)

	rooms, err := room.New(room.Config{
		TurnTimeout:      cfg.TurnTimeout,
		ForfeitThreshold: cfg.ForfeitThreshold,
		ReconnectGrace:   cfg.ReconnectGrace,
		PlayAgainTTL:     cfg.PlayAgainTTL,
		InvitationTTL:    cfg.InvitationTTL,
		CodeLength:       cfg.RoomCodeLength,
	}, st, writer, h)
	if err != nil {
		log.Fatal("Failed to create room directory: ", err)
	}

	requests := correlator.New(cfg.RequestCacheTTL)
	purgeCtx, stopPurge := context.WithCancel(context.Background())
	go requests.Run(purgeCtx, cfg.RequestCacheTTL)

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.TokenTTL)
	if !verifier.Enabled() {
		log.Println("JWT_SECRET not set: websocket auth trusts the presented userId")
	}

	routes := server.Routes{AllowedOrigin: cfg.AllowedOrigin}
	if verifier.Enabled() {
		scfg := auth.ServiceConfig{
			StartingCoins: cfg.StartingCoins,
			FrontendURL:   cfg.FrontendURL,
			SecureCookie:  cfg.Production,
		}
		if cfg.GoogleEnabled() {
			scfg.Google = auth.GoogleConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		}
		routes.Accounts = auth.NewService(verifier, st, scfg)
	}

	srv := server.New(h, rooms, requests, verifier, st, server.Options{
		Tiers:              cfg.BetTiers,
		AutoProvisionUsers: cfg.AutoProvisionUsers,
		StartingCoins:      cfg.StartingCoins,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.NewRouter(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Server started at :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed: ", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				return httpServer.Shutdown(ctx)
			},
			"game": func(ctx context.Context) error {
				stopPurge()
				rooms.Close()
				h.Close()
				if err := writer.Stop(ctx); err != nil {
					log.Printf("Store writer did not drain: %v", err)
				}
				if err := outbox.Close(); err != nil {
					log.Printf("Failed to close outbox: %v", err)
				}
				return st.Close()
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server exited with code: %d", exitCode)
	os.Exit(exitCode)
}
