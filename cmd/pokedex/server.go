package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
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
	"golang.org/x/net/netutil"

	"github.com/kalambet/pokedex/internal/api"
	"github.com/kalambet/pokedex/internal/config"
	"github.com/kalambet/pokedex/internal/prefetch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, connectivity and cache status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the catalog as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "pokedex.pid")
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
	fmt.Fprintf(os.Stderr, "pokedex version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("pokedex is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("pokedex is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, offline)
	if err != nil {
		return err
	}
	defer a.Close()

	a.monitor.Subscribe(func(connected bool) {
		a.metrics.SetConnected(connected)
		if connected {
			slog.Info("upstream reachable", "base_url", cfg.API.BaseURL)
		} else {
			slog.Warn("upstream unreachable, serving from cache", "base_url", cfg.API.BaseURL)
		}
	})
	if !offline {
		go a.monitor.Run(ctx)
		if cfg.Catalog.PrefetchPages > 0 {
			warmer := prefetch.NewWarmer(a.catalog, a.monitor, cfg.Catalog.PageSize, cfg.Catalog.PrefetchPages, cfg.Network.ProbeInterval)
			go warmer.Run(ctx)
		}
	}
	if cfg.Server.Token == "" {
		slog.Warn("POKEDEX_SERVER_TOKEN not set, cache management routes are unauthenticated")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, cfg.Server.MaxConns)

	srv := &http.Server{
		Handler:           api.NewHandler(a.deps()),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("pokedex listening", "addr", addr, "connected", a.monitor.IsConnected(), "max_conns", cfg.Server.MaxConns)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the protocol; logs go to stderr only.
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, offline)
	if err != nil {
		return err
	}
	defer a.Close()
	if !offline {
		go a.monitor.Run(ctx)
	}

	mcpSrv := api.NewMCPServer(a.deps(), version)
	stdioSrv := server.NewStdioServer(mcpSrv)
	slog.Info("MCP server started (stdio transport)", "connected", a.monitor.IsConnected())
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
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
		printError("pokedex is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop pokedex (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to pokedex (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := newAPIClientFor(cfg)
	client.httpClient.Timeout = 2 * time.Second
	reportStatus(ctx, client)

	printStatus("Upstream", "%s", cfg.API.BaseURL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Config", "%s", config.FilePath())
	return nil
}

// reportStatus prints what a running server says about itself. Each probe is
// independent so a partial answer is still shown.
func reportStatus(ctx context.Context, client *apiClient) {
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return
	}
	printStatus("Server", "running at %s", client.baseURL)

	var conn api.ConnectivityJSON
	if resp, err := client.get(ctx, "/connectivity"); err == nil && decodeJSON(resp, &conn) == nil {
		state := colorize(colorGreen, "online")
		if !conn.Connected {
			state = colorize(colorYellow, "offline")
		}
		printStatus("Upstream state", "%s since %s", state, conn.Since)
	}

	var st api.StatsJSON
	if resp, err := client.get(ctx, "/cache/stats"); err == nil && decodeJSON(resp, &st) == nil {
		printStatus("Cached items", "%d (%d with artwork)", st.Items, st.ItemsWithArt)
		printStatus("Cached details", "%d", st.Details)
	}
}
