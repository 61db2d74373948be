package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	waterwatch "github.com/MegaGrindStone/waterwatch-assistant"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/chat"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/content"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/handlers"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/services"
	"github.com/MegaGrindStone/waterwatch-assistant/internal/stream"
	"gopkg.in/yaml.v3"
)

const errLoggerKey = "err"

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	appDir := filepath.Join(cfgDir, "waterwatch")

	cfgFilePath := flag.String("config", filepath.Join(appDir, "config.yaml"), "path to the config file")
	flag.Parse()

	if err := os.MkdirAll(appDir, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfg, err := loadConfig(*cfgFilePath)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(appDir, "store.db")
	}

	logHandler, err := cfg.logHandler()
	if err != nil {
		log.Fatal(err)
	}
	logger := slog.New(logHandler)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}
}

func loadConfig(path string) (config, error) {
	cfgFile, err := os.Open(path)
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	cfg := config{}
	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func run(cfg config, logger *slog.Logger) error {
	llm, err := cfg.LLM.llm(cfg.SystemPrompt, logger)
	if err != nil {
		return fmt.Errorf("error creating llm: %w", err)
	}

	boltDB, err := services.NewBoltDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer boltDB.Close()

	store, err := chat.New(context.Background(), stream.FromLLM(llm), chat.Options{
		Stream:    cfg.Stream.sessionConfig(),
		Persister: boltDB,
	}, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := handlers.NewMain(
		store,
		content.NewRenderer(content.KaTeXMarkup{}, logger),
		content.NewRenderGate(cfg.Stream.gateConfig()),
		logger,
	)
	if err != nil {
		return fmt.Errorf("error creating handlers: %w", err)
	}

	// Serve static files
	staticFS, err := fs.Sub(waterwatch.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/api/state", m.HandleState)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/chats/regenerate", m.HandleRegenerate)
	mux.HandleFunc("/chats/clear", m.HandleClear)
	mux.HandleFunc("/sessions", m.HandleSessions)
	mux.HandleFunc("/sessions/switch", m.HandleSwitchSession)
	mux.HandleFunc("/sessions/delete", m.HandleDeleteSession)
	mux.HandleFunc("/sse", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		// Cancel the active stream before the SSE clients are told to go away.
		store.Close()
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String(errLoggerKey, err.Error()))
			}
		}
	}

	return nil
}
