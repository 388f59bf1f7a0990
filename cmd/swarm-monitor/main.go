// Swarm-monitor is the supervisor for a ticket-driven agent fleet: a web
// dashboard over the shared ticket store plus live container state from
// the Docker Engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arctek/swarm/internal/db"
	"github.com/arctek/swarm/internal/docker"
	"github.com/arctek/swarm/internal/web"
)

func main() {
	pflag.String("db", "", "Path to SQLite ticket database")
	pflag.Int("port", 3000, "HTTP listen port")
	pflag.String("static-dir", "./static", "Dashboard asset directory")
	pflag.String("docker-host", "", "Docker daemon address (default: environment)")
	pflag.String("log-file", "", "Write logs to a rotating file instead of stderr")
	pflag.Bool("debug", false, "Enable debug logging")
	pflag.Parse()

	viper.SetDefault("db", "/tickets/tickets.db")
	viper.BindPFlags(pflag.CommandLine)
	viper.BindEnv("db", "TICKET_DB")
	viper.BindEnv("port", "PORT")

	logger := newLogger(viper.GetString("log-file"), viper.GetBool("debug"))

	dbPath := viper.GetString("db")

	// The store may not exist yet when the monitor comes up first; requests
	// report the condition until the fleet's migrate step has run.
	if d, err := db.Open(dbPath); err != nil {
		logger.Warn("Ticket database not ready", "db", dbPath, "error", err)
	} else {
		d.Close()
	}

	var runtime web.Runtime
	if client, err := docker.New(viper.GetString("docker-host")); err != nil {
		logger.Warn("Docker not available", "error", err)
	} else {
		runtime = client
		defer client.Close()
	}

	server := web.NewServer(dbPath, runtime, viper.GetString("static-dir"), logger)
	addr := fmt.Sprintf(":%d", viper.GetInt("port"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
	}
}

// newLogger builds the monitor's logger: stderr by default, a
// size-rotated file when configured.
func newLogger(logFile string, debug bool) *slog.Logger {
	var out io.Writer = os.Stderr
	if logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
