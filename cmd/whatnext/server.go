package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/whatnext/internal/api"
	"github.com/kalambet/whatnext/internal/config"
	"github.com/kalambet/whatnext/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the whatnext server (foreground)",
	Long: `Start the whatnext server in the foreground.

The server exposes the management API on localhost, speaks MCP over stdio,
and periodically refreshes the movie/TV catalog in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running whatnext server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whatnext system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "whatnext.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "whatnext version %s\n", version)

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()
	cfg := app.cfg

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure API token exists in platform secret store.
	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("whatnext is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("whatnext is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Build HTTP handler and server.
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:   app.store,
		Prefs:   app.prefs,
		Engines: app.engines,
		Token:   apiToken,
		Count:   cfg.Recommend.Count,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Start the background catalog refresh worker.
	interval, err := time.ParseDuration(cfg.Sync.Interval)
	if err != nil {
		slog.Warn("invalid sync interval, using default 6h", "value", cfg.Sync.Interval, "error", err)
		interval = 6 * time.Hour
	}
	worker := syncer.NewWorker(app.store, app.sources, cfg.Sync.Pages, interval)
	go worker.Run(ctx)

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:   app.store,
		Prefs:   app.prefs,
		Engines: app.engines,
		Count:   cfg.Recommend.Count,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "whatnext listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("whatnext is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop whatnext (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to whatnext (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	apiToken, tokenErr := config.GetAPIToken(config.NewKeychain())
	if tokenErr == nil {
		resp, err := apiGet(client, serverURL+"/health", apiToken)
		if err != nil {
			printStatus("Server", "stopped")
		} else {
			var health struct {
				Status  string         `json:"status"`
				Catalog map[string]int `json:"catalog"`
			}
			decodeErr := json.NewDecoder(resp.Body).Decode(&health)
			resp.Body.Close()
			if resp.StatusCode == 200 && decodeErr == nil {
				running = true
				printStatus("Server", "running on port %d", cfg.Server.Port)
				for _, domain := range []string{"restaurant", "movie", "tv"} {
					printStatus("Catalog "+domain, "%d entries", health.Catalog[domain])
				}
			} else {
				printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			}
		}
	} else {
		printStatus("Server", "unknown (no API token: %v)", tokenErr)
	}

	if !running {
		// Fall back to local catalog counts when the server is down.
		if app, err := openApp(); err == nil {
			for _, domain := range []string{"restaurant", "movie", "tv"} {
				if n, err := app.store.CountEntities(domain); err == nil {
					printStatus("Catalog "+domain, "%d entries", n)
				}
			}
			app.Close()
		}
	}

	tmdbState := "configured"
	if cfg.TMDB.APIKey == "" {
		tmdbState = "no API key (movie/tv sync disabled)"
	}
	placesState := "configured"
	if cfg.Places.APIKey == "" {
		placesState = "no API key (restaurant sync disabled)"
	}
	printStatus("TMDB", "%s", tmdbState)
	printStatus("Places", "%s", placesState)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
