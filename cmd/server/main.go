package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chatsync/internal/config"
	"chatsync/internal/domain"
	"chatsync/internal/feed"
	"chatsync/internal/httpserver"
	"chatsync/internal/presence"
	"chatsync/internal/security"
	"chatsync/internal/service"
	"chatsync/internal/store/postgres"
	"chatsync/internal/store/sqlite"
	"chatsync/internal/ws"

	"chatsync/internal/fanout"
)

func main() {
	// .env is optional; real deployments configure via the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lvl := slog.LevelInfo
	if cfg.Debug {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		db       *sql.DB
		users    domain.UserRepository
		rooms    domain.RoomRepository
		messages domain.MessageRepository
	)

	// Change-feed consumers (sync engine sessions) attach their own
	// LISTEN connection or broker; the server side only needs the repos.
	switch cfg.StoreDriver {
	case "postgres":
		db, err = postgres.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		if err := postgres.Migrate(db); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		users = postgres.NewUserRepo(db)
		rooms = postgres.NewRoomRepo(db)
		messages = postgres.NewMessageRepo(db)

	case "sqlite":
		db, err = sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		if err := sqlite.Migrate(db); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		broker := feed.NewBroker()
		users = sqlite.NewUserRepo(db)
		rooms = sqlite.NewRoomRepo(db)
		messages = sqlite.NewMessageRepo(db, broker)
	}
	defer db.Close()

	// Security components
	tokenSvc := security.NewTokens(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	passwords := security.NewPasswords(cfg.BcryptCost)

	// Services
	authSvc := service.NewAuthService(users, tokenSvc, passwords)
	userSvc := service.NewUserService(users)
	roomSvc := service.NewRoomService(rooms)
	msgSvc := service.NewMessageService(rooms, messages)

	// Fan-out and presence
	hub := fanout.NewHub()
	tracker := presence.NewTracker(presence.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		MissThreshold:     cfg.MissThreshold,
	})
	go tracker.Run(ctx)

	gateway := ws.NewGateway(hub, msgSvc, roomSvc, tracker)

	router := httpserver.NewRouter(httpserver.Deps{
		Cfg:     cfg,
		Tokens:  tokenSvc,
		Users:   users,
		AuthSvc: authSvc,
		UserSvc: userSvc,
		RoomSvc: roomSvc,
		MsgSvc:  msgSvc,
		Gateway: gateway,
		WS:      ws.MakeHandler(hub, gateway, tokenSvc, users, cfg.CORSOrigins),
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting chatsync server on %s\n", cfg.HTTPAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
