package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mxie/chatwrapped/internal/config"
	"github.com/mxie/chatwrapped/internal/index"
)

// runBuild indexes one account's dumps and waits for the result.
func runBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	account := fs.String("account", "", "Account id to index (required)")
	rebuild := fs.Bool("rebuild", false, "Drop and rebuild an existing index")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: chatwrapped build -account <id> [flags]")
		fmt.Fprintln(fs.Output(), "\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}
	if *account == "" {
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	mgr := index.NewManager(
		cfg.AccountsDir, cfg.DecryptCommand, cfg.Location(),
	)

	progress, cancel := mgr.Subscribe(*account)
	defer cancel()

	if !mgr.StartBuild(*account, *rebuild) {
		log.Fatalf("a build for %s is already running", *account)
	}

	for {
		select {
		case p := <-progress:
			printProgress(p)
			switch p.Phase {
			case index.PhaseDone:
				fmt.Printf("\nIndex for %s built: %d rows from %d dump(s)\n",
					*account, p.Rows, p.DumpsDone)
				return
			case index.PhaseError:
				st := mgr.Status(*account)
				fmt.Println()
				log.Fatalf("index build failed: %s", st.Build.Error)
			}
		case <-time.After(time.Second):
			if info := mgr.Status(*account).Build; info.Status != index.BuildRunning {
				if info.Status == index.BuildFailed {
					log.Fatalf("index build failed: %s", info.Error)
				}
				fmt.Printf("\nIndex for %s built: %d rows\n",
					*account, info.Progress.Rows)
				return
			}
		}
	}
}

func printProgress(p index.Progress) {
	if p.Dumps > 0 {
		fmt.Printf("\r  %s: %d/%d dump(s), %d rows",
			p.Phase, p.DumpsDone, p.Dumps, p.Rows)
	} else {
		fmt.Printf("\r  %s", p.Phase)
	}
}
