package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/mxie/chatwrapped/internal/config"
	"github.com/mxie/chatwrapped/internal/index"
	"github.com/mxie/chatwrapped/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const watcherDebounce = 2 * time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "build":
			runBuild(os.Args[2:])
			return
		case "update":
			runUpdate(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("chatwrapped %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`chatwrapped %s - your chat year, wrapped

Indexes decrypted chat message dumps into SQLite and serves a
monthly best-friends report over a local REST API.

Usage:
  chatwrapped [flags]          Start the server (default command)
  chatwrapped serve [flags]    Start the server (explicit)
  chatwrapped build [flags]    Build one account's message index
  chatwrapped update [flags]   Check for a newer release
  chatwrapped version          Show version information
  chatwrapped help             Show this help

Server flags:
  -host string            Host to bind to (default "127.0.0.1")
  -port int               Port to listen on (default 8080)
  -accounts-dir string    Directory containing account data
  -decrypt-command string Command used to produce message dumps
  -watch-dumps            Rebuild indexes when dumps change (default true)

Build flags:
  -account string         Account id to index (required)
  -rebuild                Drop and rebuild an existing index

Update flags:
  -force                  Force check (ignore cache)

Environment variables:
  CHATWRAPPED_DATA_DIR         Data directory (config, accounts)
  CHATWRAPPED_ACCOUNTS_DIR     Accounts directory
  CHATWRAPPED_DECRYPT_COMMAND  Dump decrypt command
  CHATWRAPPED_TIMEZONE         Timezone for month boundaries

Data is stored in ~/.chatwrapped/ by default.
`, version)
}

func runServe(args []string) {
	cfg := mustLoadConfig(args)

	mgr := index.NewManager(
		cfg.AccountsDir, cfg.DecryptCommand, cfg.Location(),
	)

	if cfg.WatchDumps {
		stop := startDumpWatcher(cfg, mgr)
		defer stop()
	}

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		fmt.Printf("Port %d in use, using %d\n", cfg.Port, port)
	}
	cfg.Port = port

	srv := server.New(cfg, mgr,
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
	)

	fmt.Printf("chatwrapped %s listening at http://%s:%d\n",
		version, cfg.Host, cfg.Port)

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

func mustLoadConfig(args []string) config.Config {
	fs := flag.NewFlagSet("chatwrapped", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: chatwrapped [serve] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	config.RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := os.MkdirAll(cfg.AccountsDir, 0o755); err != nil {
		log.Fatalf("creating accounts dir: %v", err)
	}
	return cfg
}

func startDumpWatcher(cfg config.Config, mgr *index.Manager) func() {
	onChange := func(accounts []string) {
		for _, account := range accounts {
			st := mgr.Status(account)
			mgr.StartBuild(account, st.Exists)
		}
	}
	watcher, err := index.NewWatcher(
		cfg.AccountsDir, watcherDebounce, onChange,
	)
	if err != nil {
		log.Printf("warning: dump watcher unavailable: %v", err)
		return func() {}
	}

	if _, _, err := watcher.WatchAccounts(); err != nil {
		log.Printf("warning: watching accounts: %v", err)
	}
	watcher.Start()
	return watcher.Stop
}
