package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-chatengine/internal/api"
	"github.com/npezzotti/go-chatengine/internal/config"
	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/server"
	"github.com/npezzotti/go-chatengine/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	sendBuffer     int
	allowedOrigins stringSliceFlag
)

type repository interface {
	database.GoChatRepository
	io.Closer
}

func openRepository(cfg *config.Config, logger *log.Logger) (repository, error) {
	if cfg.InMemory() {
		logger.Println("using in-memory store, data will not survive a restart")
		return database.NewMemGoChatRepository(), nil
	}

	db, err := database.NewPgGoChatRepository(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string, or \"memory\"")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.IntVar(&sendBuffer, "send-buffer", config.DefaultSendBuffer, "events queued per session before it is dropped")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-chat] ", log.LstdFlags)

	env, err := config.LoadEnv()
	if err != nil {
		logger.Fatal("env:", err)
	}

	origins := []string(allowedOrigins)
	env.Override(&addr, &dsn, &signingKey, &origins, &sendBuffer)

	cfg, err := config.NewConfig(addr, dsn, signingKey, origins, sendBuffer)
	if err != nil {
		logger.Fatal("config:", err)
	}

	db, err := openRepository(cfg, logger)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()

	chatServer := server.NewChatServer(logger, db, statsUpdater, cfg.SendBuffer)
	srv := api.NewGoChatApp(mux, logger, chatServer, db, statsUpdater, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	// sessions are gone, nothing updates the counters any more
	statsUpdater.Stop()

	logger.Println("shutdown complete")
}
