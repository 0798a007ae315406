package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	chatwidget "github.com/MegaGrindStone/chat-widget"
	"github.com/MegaGrindStone/chat-widget/internal/handlers"
	"github.com/MegaGrindStone/chat-widget/internal/services"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal(fmt.Errorf("error loading .env file: %w", err))
	}

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "chatwidget")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfgFilePath := os.Getenv("CHATWIDGET_CONFIG")
	if cfgFilePath == "" {
		cfgFilePath = filepath.Join(cfgPath, "config.yaml")
	}
	cfg, err := loadConfig(cfgFilePath)
	if err != nil {
		log.Fatal(err)
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer closeLog()

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(cfgPath, "store.db")
	}
	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		panic(err)
	}
	defer boltDB.Close()

	stored, err := boltDB.Sessions(context.Background())
	if err != nil {
		panic(err)
	}
	logger.Info("Store opened", slog.String("path", dbPath), slog.Int("sessions", len(stored)))

	hcfg, err := cfg.handlersConfig()
	if err != nil {
		panic(err)
	}

	m, err := handlers.NewMain(backendFactory(cfg, logger), boltDB, hcfg, logger)
	if err != nil {
		panic(err)
	}

	// Serve static files
	staticFS, err := fs.Sub(chatwidget.StaticFS, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/sse", m.HandleSSE)
	mux.HandleFunc("/widget/chat", m.HandleChat)
	mux.HandleFunc("/widget/feedback", m.HandleFeedback)
	mux.HandleFunc("/widget/auth", m.HandleAuth)
	mux.HandleFunc("/widget/profile", m.HandleProfile)
	mux.HandleFunc("/login", m.HandleLogin)
	mux.HandleFunc("/logout", m.HandleLogout)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port), slog.String("backend", cfg.BackendURL))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}

// newLogger builds the process logger. With a log file configured, output goes to a size-rotated file.
func newLogger(cfg logConfig) (*slog.Logger, func(), error) {
	level, err := cfg.level()
	if err != nil {
		return nil, nil, err
	}

	var (
		out     io.Writer = os.Stderr
		closeFn           = func() {}
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		out = lj
		closeFn = func() { _ = lj.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch cfg.Format {
	case "json":
		h = slog.NewJSONHandler(out, opts)
	case "", "text":
		h = slog.NewTextHandler(out, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format: %s", cfg.Format)
	}

	return slog.New(h), closeFn, nil
}

// backendFactory returns the factory that builds a backend client per request, forwarding the
// visitor's credential cookies. With no credential cookies configured, every cookie except the widget
// session cookie is forwarded.
func backendFactory(cfg config, logger *slog.Logger) handlers.BackendFactory {
	return func(r *http.Request) (handlers.Backend, error) {
		var cookies []*http.Cookie
		for _, c := range r.Cookies() {
			if c.Name == handlers.SessionCookieName {
				continue
			}
			if len(cfg.CredentialCookies) > 0 && !slices.Contains(cfg.CredentialCookies, c.Name) {
				continue
			}
			cookies = append(cookies, c)
		}

		opts := []services.BackendOption{services.WithCookies(cookies)}
		if cfg.BearerToken != "" {
			opts = append(opts, services.WithBearerToken(cfg.BearerToken))
		}
		b, err := services.NewBackend(cfg.BackendURL, logger, opts...)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}
