package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgeflow/conductor/internal/config"
)

// runServe loads config, wires every internal package via buildEngine, and
// serves the websocket control plane until SIGINT/SIGTERM, then drains
// gracefully. Grounded on the teacher's handlers_serve.go runServe /
// http_server.go startHTTPServer+stopHTTPServer pair.
func runServe(ctx context.Context, configPath string, debug bool) error {
	watcher, err := config.NewWatcher(configPath, nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := watcher.Current()
	if debug {
		cfg.Logging.Level = "debug"
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	// logging.level is the one field safe to change underneath a running
	// engine; everything else in a reloaded Config requires a restart since
	// it's already baked into eng's constructed components.
	watcher.OnReload = func(next *config.Config) {
		eng.logger.SetLevel(next.Logging.Level)
	}
	if err := watcher.StartWatching(ctx); err != nil {
		eng.slog.Warn("config hot-reload disabled", "error", err)
	}
	defer watcher.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handleHealthz)
	mux.Handle("/ws", newWSServer(eng.controller, eng.slog))

	server := &http.Server{
		Addr:              cfg.Session.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Session.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Session.ListenAddr, err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		eng.slog.Info("serving", "addr", cfg.Session.ListenAddr)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		eng.slog.Warn("http server shutdown error", "error", err)
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		eng.slog.Warn("engine shutdown error", "error", err)
	}
	return nil
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// runStatus builds the engine just far enough to report reachability of
// each configured component, then tears it down without serving.
func runStatus(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	report := map[string]any{
		"llm_provider_accounts": len(cfg.LLMProvider.Accounts),
		"tool_servers":          len(cfg.ToolServers),
		"memory_backend":        cfg.Memory.Backend,
		"checkpoint_enabled":    cfg.Checkpoint.Enabled,
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		report["ready"] = false
		report["error"] = err.Error()
		return json.NewEncoder(out).Encode(report)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(shutdownCtx)
	}()

	report["ready"] = true
	for _, srv := range cfg.ToolServers {
		report["tool_server_status_"+srv.Name] = string(eng.bus.Status(srv.Name))
	}

	return json.NewEncoder(out).Encode(report)
}

// runCheckpointGC runs one gc sweep immediately, outside the scheduled
// interval, reporting whether checkpointing is even enabled.
func runCheckpointGC(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Checkpoint.Enabled {
		_, err := fmt.Fprintln(out, "checkpoint.enabled is false; nothing to collect")
		return err
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(shutdownCtx)
	}()

	eng.checkpointGC.Sweep()
	_, err = fmt.Fprintf(out, "checkpoint gc sweep complete for %s\n", cfg.Checkpoint.Directory)
	return err
}
