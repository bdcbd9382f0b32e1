// cmd/marrow-mcp is the entry point for the marrow MCP (Model Context
// Protocol) server.  It wires a storage engine (SQLite by default, Postgres
// optionally) through the memory interconnect and session manager, registers
// the built-in tool families, and serves JSON-RPC 2.0 on stdin/stdout.
//
// Startup sequence:
//  1. Load configuration from environment variables (optional YAML overlay).
//  2. Ensure the data directory exists and open the storage engine.
//  3. Build the interconnect engine, consolidator, and session manager.
//  4. Populate the tool registry and start the inbox watcher.
//  5. Serve JSON-RPC 2.0 requests from stdin, writing responses to stdout,
//     or on a websocket listener when one is configured.
//
// CRITICAL: ALL logging MUST go to stderr.  Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marrow-mcp/marrow/internal/api/rpc"
	"github.com/marrow-mcp/marrow/internal/config"
	"github.com/marrow-mcp/marrow/internal/interconnect"
	"github.com/marrow-mcp/marrow/internal/memory"
	"github.com/marrow-mcp/marrow/internal/memory/postgres"
	"github.com/marrow-mcp/marrow/internal/memory/sqlite"
	"github.com/marrow-mcp/marrow/internal/notify"
	"github.com/marrow-mcp/marrow/internal/session"
	"github.com/marrow-mcp/marrow/internal/tools"
)

// storage is what the wiring needs from an engine: the memory store plus the
// session store, which both built-in engines implement on one handle.
type storage interface {
	memory.Store
	session.Store
}

func main() {
	// Redirect the default logger to stderr so that any incidental log calls
	// (e.g. from imported packages) never pollute the stdout JSON-RPC stream.
	log.SetOutput(os.Stderr)
	log.SetPrefix("marrow-mcp: ")
	log.SetFlags(log.LstdFlags)

	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "marrow-mcp",
		Short:         "marrow MCP server: tools, sessions, and persistent memory over JSON-RPC 2.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file applied over the environment")

	rootCmd.AddCommand(newToolsCmd(&configPath), newHealthCmd(&configPath))
	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfigFile(path)
	}
	return config.LoadConfig()
}

// openStore opens the configured storage engine. The caller owns Close.
func openStore(cfg *config.Config) (storage, error) {
	switch cfg.Storage.Engine {
	case "", "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory %q: %w", cfg.Storage.DataPath, err)
		}
		return sqlite.Open(filepath.Join(cfg.Storage.DataPath, "marrow.db"))
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return nil, errors.New("storage engine is postgres but no DSN is configured")
		}
		return postgres.Open(cfg.Storage.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}

// buildRegistry populates the tool registry with every built-in tool family.
func buildRegistry(cfg *config.Config, store storage) (*tools.Registry, error) {
	engine, err := interconnect.NewEngine(store, cfg.Memory.LinkThreshold, cfg.Memory.RelatedLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to build interconnect engine: %w", err)
	}
	consolidator := memory.NewConsolidator(store, interconnect.Similarity, cfg.Memory.ConsolidateThreshold)
	manager := session.NewManager(store, store)

	fileTools, err := tools.NewFileTools(cfg.Tools.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to set up file tools: %w", err)
	}
	shellTools, err := tools.NewShellTools(cfg.Tools.WorkspaceRoot, cfg.Tools.ShellTimeoutCeiling)
	if err != nil {
		return nil, fmt.Errorf("failed to set up shell tools: %w", err)
	}
	webTools := tools.NewWebTools(tools.WebConfig{
		FetchLimit: cfg.Tools.WebFetchLimit,
		RatePerSec: cfg.Tools.WebRatePerSec,
		Burst:      cfg.Tools.WebBurst,
	})

	registry := tools.NewRegistry()
	registry.MustRegister(tools.EchoDefinition)
	registry.MustRegister(fileTools.Definitions()...)
	registry.MustRegister(shellTools.Definitions()...)
	registry.MustRegister(webTools.Definitions()...)
	registry.MustRegister(tools.NewMemoryTools(store, consolidator, engine).Definitions()...)
	registry.MustRegister(tools.NewSessionTools(manager).Definitions()...)
	return registry, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	registry, err := buildRegistry(cfg, store)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	// The inbox watcher is a convenience for out-of-band memory drops; a
	// failure to start it never blocks serving.
	watcher := notify.NewInboxWatcher(cfg.Storage.DataPath, store)
	if err := watcher.Start(); err != nil {
		log.Printf("warning: inbox watcher disabled: %v", err)
	} else {
		defer watcher.Stop()
		log.Printf("watching inbox at %s", watcher.Dir())
	}

	srv := rpc.NewServer(registry, cfg.Server.Name, cfg.Server.Version, cfg.Server.CallTimeout)

	if addr := cfg.Server.WSListen; addr != "" {
		return serveWS(ctx, srv, addr)
	}

	log.Printf("ready — serving JSON-RPC 2.0 on stdin/stdout (%d tools)", registry.Len())
	if err := transportServe(ctx, srv); err != nil {
		// A non-nil error here is normal (context cancellation) or indicates
		// a fatal stdin/stdout problem.  Either way it is informational only.
		log.Printf("transport stopped: %v", err)
	}
	return nil
}

func transportServe(ctx context.Context, srv *rpc.Server) error {
	return rpc.NewStdioTransport(srv, os.Stdin, os.Stdout).Serve(ctx)
}

// serveWS serves the same dispatcher over a websocket listener instead of
// stdio. Used when a supervisor keeps one long-lived server for several
// clients.
func serveWS(ctx context.Context, srv *rpc.Server, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           rpc.NewWSHandler(srv),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	log.Printf("ready — serving JSON-RPC 2.0 on ws://%s", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newToolsCmd lists the registered tools to stderr, keeping stdout clean for
// callers that wrap the binary.
func newToolsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the built-in tools",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}
			defer store.Close()

			registry, err := buildRegistry(cfg, store)
			if err != nil {
				return err
			}
			for _, def := range registry.List() {
				fmt.Fprintf(os.Stderr, "%-24s %s\n", def.Name, def.Description)
			}
			return nil
		},
	}
}

// newHealthCmd opens the store and prints entry and session counts. It exits
// non-zero when the store cannot be opened, which makes it usable as a
// supervisor liveness probe.
func newHealthCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the storage engine and print counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("storage unhealthy: %w", err)
			}
			defer store.Close()

			ctx := cmd.Context()
			stats, err := store.Stats(ctx)
			if err != nil {
				return fmt.Errorf("storage unhealthy: %w", err)
			}
			sessions, err := store.ListSessions(ctx, 0)
			if err != nil {
				return fmt.Errorf("storage unhealthy: %w", err)
			}

			fmt.Printf("engine:   %s\n", engineName(cfg))
			fmt.Printf("entries:  %d\n", stats.Entries)
			fmt.Printf("sessions: %d\n", len(sessions))
			if len(stats.Categories) > 0 {
				cats := make([]string, 0, len(stats.Categories))
				for c := range stats.Categories {
					cats = append(cats, c)
				}
				sort.Strings(cats)
				for _, c := range cats {
					fmt.Printf("  %-16s %d\n", c, stats.Categories[c])
				}
			}
			if r, ok := store.(interface{ Recovered() bool }); ok && r.Recovered() {
				fmt.Println("warning:  database was corrupt and has been quarantined; starting empty")
			}
			return nil
		},
	}
}

func engineName(cfg *config.Config) string {
	if cfg.Storage.Engine == "" {
		return "sqlite"
	}
	return cfg.Storage.Engine
}
