package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/ethika/internal/api"
	"github.com/kalambet/ethika/internal/config"
	"github.com/kalambet/ethika/internal/ingest"
	"github.com/kalambet/ethika/internal/logging"
	"github.com/kalambet/ethika/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ethika server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running ethika server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ethika system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "ethika.pid")
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

func runServer(ctx context.Context) error {
	fmt.Fprintf(os.Stderr, "ethika version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := logging.Setup(cfg.Log.Format, cfg.Log.Level, os.Stderr); err != nil {
		return err
	}

	shutdownTracing, err := tracing.Setup(cfg.Tracing.Enabled, version, os.Stderr)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("flushing traces", "error", err)
		}
	}()

	// Refuse to start twice on the same port.
	baseURL := serverURL(cfg.Server)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(baseURL + "/api/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidFilePath(cfg.Storage.DataDir)); pidErr == nil {
			printWarning("ethika is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("ethika is already running on %s", cfg.Server.Addr())
		return fmt.Errorf("server already running on %s", cfg.Server.Addr())
	}

	a, err := openApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	svc := a.newService(ctx)

	if cfg.Server.APIToken == "" {
		slog.Warn("ETHIKA_API_TOKEN is not set; the API accepts unauthenticated requests")
	}
	handler := api.NewHandler(api.Deps{
		Service:      svc,
		History:      a.store,
		Resources:    a.resources,
		Jobs:         a.store,
		Token:        cfg.Server.APIToken,
		CORSOrigins:  cfg.Server.Origins(),
		DefaultLimit: cfg.Retrieval.DefaultLimit,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Embed resources submitted through the API.
	worker := ingest.NewWorker(a.store, a.resources, a.embedder, 500*time.Millisecond)
	go worker.Run(ctx)

	if cfg.Server.MCPStdio {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(svc, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ethika listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("ethika is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop ethika (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to ethika (PID %d)", pid)
	return nil
}

type healthResponse struct {
	Status    string `json:"status"`
	Resources int    `json:"resources"`
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    serverURL(cfg.Server),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	health, err := fetchHealth(ctx, client)
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		printStatus("Server", "running on %s", cfg.Server.Addr())
		printStatus("Resources", "%d", health.Resources)
	}

	if cfg.Embedding.Provider == "ollama" || cfg.Generation.Provider == "ollama" {
		resp, err := client.httpClient.Get(cfg.Ollama.BaseURL + "/api/version")
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			resp.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		}
	}

	printStatus("Embeddings", "%s", embeddingLabel(cfg))
	printStatus("Generation", "%s", generationLabel(cfg))
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func fetchHealth(ctx context.Context, c *apiClient) (healthResponse, error) {
	resp, err := c.get(ctx, "/api/health")
	if err != nil {
		return healthResponse{}, err
	}
	var h healthResponse
	if err := decodeJSON(resp, &h); err != nil {
		return healthResponse{}, err
	}
	return h, nil
}

func embeddingLabel(cfg config.Config) string {
	switch cfg.Embedding.Provider {
	case "hash":
		return fmt.Sprintf("hash (%d dims)", cfg.Embedding.Dimensions)
	case "gemini":
		return "gemini " + cfg.Gemini.EmbedModel
	default:
		return "ollama " + cfg.Embedding.Model
	}
}

func generationLabel(cfg config.Config) string {
	switch cfg.Generation.Provider {
	case "none":
		return "disabled"
	case "gemini":
		return "gemini " + cfg.Gemini.Model
	case "ollama":
		return "ollama " + cfg.Ollama.ChatModel
	default:
		if cfg.Generation.APIKey == "" {
			return "openrouter (no api key, disabled)"
		}
		return "openrouter " + cfg.Generation.Model
	}
}
