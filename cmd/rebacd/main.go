// Command rebacd runs the relation graph engine behind a bearer-token
// authenticated HTTP RPC surface.
//
// Usage:
//
//	rebacd serve                 - load config, recover a snapshot if
//	                                present, and serve RPC traffic
//	rebacd snapshot export PATH  - load the snapshot stored at the
//	                                configured path and write it to PATH
//	rebacd snapshot import PATH  - parse PATH and print its vertex count
//	rebacd init                  - print a rebacd.yaml config template
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relationcore/rebacd/pkg/audit"
	"github.com/relationcore/rebacd/pkg/auth"
	"github.com/relationcore/rebacd/pkg/config"
	"github.com/relationcore/rebacd/pkg/graph"
	"github.com/relationcore/rebacd/pkg/server"
)

var (
	version    = "0.1.0"
	commit     = "dev"
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rebacd",
		Short: "rebacd - a Google Zanzibar-style ReBAC graph service",
		Long: `rebacd stores a graph of typed relationship tuples between objects and
answers authorization queries by transitive reachability over that
graph, in the spirit of Google Zanzibar.`,
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a rebacd.yaml overlay (optional)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(initCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.LoadFromEnv()
	if configFile != "" {
		if err := config.LoadFromFile(cfg, configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load config, recover the snapshot, and serve RPC traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Printf("rebacd %s starting, listen=%s", version, cfg.Server.ListenAddress)

	g := recoverGraph(cfg.Snapshot.Path)

	authenticator, err := buildAuthenticator(cfg)
	if err != nil {
		return err
	}

	ledger, err := audit.NewLedger(audit.Config{
		Enabled:       cfg.Audit.Enabled,
		Dir:           cfg.Audit.Dir,
		RetentionDays: cfg.Audit.RetentionDays,
	})
	if err != nil {
		return fmt.Errorf("rebacd: open audit ledger: %w", err)
	}
	defer ledger.Close()

	authorizer := auth.NewAuthorizer(g)

	srvConfig := server.DefaultConfig()
	host, port, err := splitHostPort(cfg.Server.ListenAddress)
	if err != nil {
		return err
	}
	srvConfig.Address = host
	srvConfig.Port = port
	srvConfig.ReadTimeout = cfg.Server.ReadTimeout
	srvConfig.WriteTimeout = cfg.Server.WriteTimeout
	srvConfig.DefaultCheckLimit = cfg.Server.CheckDepthLimit

	srv, err := server.New(g, authenticator, authorizer, ledger, srvConfig)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("rebacd: start server: %w", err)
	}
	log.Printf("rebacd listening on %s", srv.Addr())

	stop := startSnapshotScheduler(g, srv, cfg.Snapshot)
	defer stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("rebacd: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Printf("rebacd: shutdown error: %v", err)
	}

	if err := writeSnapshotFile(g, cfg.Snapshot.Path); err != nil {
		log.Printf("rebacd: final snapshot write failed: %v", err)
	}
	return nil
}

func buildAuthenticator(cfg *config.Config) (*auth.Authenticator, error) {
	authCfg := auth.DefaultAuthConfig()
	authCfg.SecurityEnabled = cfg.Auth.Enabled
	authCfg.MinPasswordLength = cfg.Auth.MinPasswordLength
	authCfg.TokenExpiry = cfg.Auth.TokenExpiry
	authCfg.JWTSecret = []byte(cfg.Auth.JWTSecret)

	authenticator, err := auth.NewAuthenticator(authCfg)
	if err != nil {
		return nil, fmt.Errorf("rebacd: configure authenticator: %w", err)
	}
	if cfg.Auth.Enabled {
		if _, err := authenticator.CreateUser(cfg.Auth.InitialUsername, cfg.Auth.InitialPassword, true); err != nil && err != auth.ErrUserExists {
			return nil, fmt.Errorf("rebacd: create bootstrap admin: %w", err)
		}
	}
	return authenticator, nil
}

// recoverGraph loads path if it exists, logging and falling back to an
// empty graph on any I/O error: a corrupt or missing snapshot must
// never prevent the service from starting.
func recoverGraph(path string) *graph.RelationGraph {
	f, err := os.Open(path)
	if err != nil {
		log.Printf("rebacd: no snapshot at %s, starting empty: %v", path, err)
		return graph.New()
	}
	defer f.Close()

	g := graph.ReadSavefile(f)
	log.Printf("rebacd: recovered snapshot from %s (%d vertices)", path, g.VertexCount())
	return g
}

func writeSnapshotFile(g *graph.RelationGraph, path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if err := g.WriteSavefile(f); err != nil {
		f.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// startSnapshotScheduler runs a background goroutine that writes a
// snapshot whenever srv.SnapshotTrigger() fires, debounced to at most
// one write per cfg.MinInterval, plus an unconditional write every
// cfg.Interval regardless of mutation activity. It returns a stop
// function that halts the goroutine.
func startSnapshotScheduler(g *graph.RelationGraph, srv *server.Server, cfg config.SnapshotConfig) func() {
	done := make(chan struct{})

	go func() {
		var ticker *time.Ticker
		var tickCh <-chan time.Time
		if cfg.Interval > 0 {
			ticker = time.NewTicker(cfg.Interval)
			tickCh = ticker.C
			defer ticker.Stop()
		}

		var lastWrite time.Time
		for {
			select {
			case <-done:
				return
			case <-tickCh:
				if err := writeSnapshotFile(g, cfg.Path); err != nil {
					log.Printf("rebacd: periodic snapshot failed: %v", err)
				}
				lastWrite = time.Now()
			case <-srv.SnapshotTrigger():
				if time.Since(lastWrite) < cfg.MinInterval {
					continue
				}
				if err := writeSnapshotFile(g, cfg.Path); err != nil {
					log.Printf("rebacd: triggered snapshot failed: %v", err)
				}
				lastWrite = time.Now()
			}
		}
	}()

	return func() { close(done) }
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("rebacd: invalid listen address %q", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("rebacd: invalid listen address %q", addr)
	}
	return host, port, nil
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import a textual graph snapshot",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "export PATH",
		Short: "Write the engine's current snapshot to PATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			g := recoverGraph(cfg.Snapshot.Path)
			return writeSnapshotFile(g, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import PATH",
		Short: "Parse PATH and report the resulting vertex count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			g := graph.ReadSavefile(f)
			fmt.Printf("parsed %s: %d vertices\n", args[0], g.VertexCount())
			return nil
		},
	})
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Print a rebacd.yaml configuration template",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(configTemplate)
			return nil
		},
	}
}

const configTemplate = `server:
  listen_address: "0.0.0.0:8080"
  read_timeout: 10s
  write_timeout: 10s
  check_depth_limit: 0
snapshot:
  path: "./data/rebacd.snapshot"
  interval: 5m
  min_interval: 2s
auth:
  enabled: true
  initial_username: admin
  initial_password: "CHANGE_ME"
  min_password_length: 8
  token_expiry: 24h
  jwt_secret: "CHANGE_ME_TOO"
audit:
  enabled: true
  dir: "./data/audit"
  retention_days: 365
`
