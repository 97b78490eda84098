package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/daviddao/phishbeads/internal/beads"
	"github.com/daviddao/phishbeads/internal/config"
	"github.com/daviddao/phishbeads/internal/db"
	"github.com/daviddao/phishbeads/internal/engine"
	"github.com/daviddao/phishbeads/internal/guard"
	"github.com/daviddao/phishbeads/internal/incident"
	"github.com/daviddao/phishbeads/internal/indicator"
	"github.com/daviddao/phishbeads/internal/ledger"
	"github.com/daviddao/phishbeads/internal/logging"
	psync "github.com/daviddao/phishbeads/internal/sync"
	"github.com/daviddao/phishbeads/internal/transport"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set via ldflags at build time.
var Version = "dev"

const dataDir = ".phishbeads"

var (
	dbPath     string
	configPath string
	jsonOutput bool
	quietFlag  bool
	beadsFlag  bool

	cfg    *config.Config
	logger *zap.Logger
	store  *db.DB
	svc    *services
)

// services holds everything a command needs, built once per invocation.
type services struct {
	indicators *indicator.Store
	resolver   *indicator.Resolver
	ledger     *ledger.Ledger
	engine     *engine.Engine
	queue      *incident.Queue
	syncer     *psync.Syncer
	node       *transport.Client
	guard      guard.Guard
	redis      *redis.Client
}

var rootCmd = &cobra.Command{
	Use:   "pb",
	Short: "pb - Phishing indicator matching for your mailbox",
	Long:  "Phishbeads: check emails against known-bad domains and addresses, track incidents and report them to a PhishDetect node.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for commands that don't need it
		switch cmd.Name() {
		case "init", "help", "version", "quickstart":
			return nil
		case "gmail":
			return nil
		case "accounts":
			// Listing accounts doesn't need the DB
			if cmd.Parent() != nil && cmd.Parent().Name() == "gmail" {
				return nil
			}
		}

		path := dbPath
		if path == "" {
			path = db.DiscoverDB()
		}
		if path == "" {
			return fmt.Errorf("no phishbeads database found, run 'pb init' first")
		}

		cpath := configPath
		if cpath == "" {
			cpath = filepath.Join(filepath.Dir(path), config.FileName)
		}
		var err error
		if cfg, err = config.Load(cpath); err != nil {
			return err
		}

		level := cfg.Log.Level
		if quietFlag {
			level = "error"
		}
		if logger, err = logging.New(level, cfg.Log.Format); err != nil {
			return err
		}

		store, err = db.Open(path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if svc, err = buildServices(cfg, store, logger); err != nil {
			return err
		}
		if err := svc.syncer.RestoreFilter(); err != nil {
			logger.Warn("prefilter not restored, using exact lookup", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if svc != nil && svc.redis != nil {
			svc.redis.Close()
		}
		if store != nil {
			store.Close()
		}
		if logger != nil {
			logger.Sync()
		}
	},
}

func buildServices(cfg *config.Config, d *db.DB, logger *zap.Logger) (*services, error) {
	s := &services{}
	s.indicators = indicator.NewStore(d, logger.Named("indicators"))
	s.resolver = indicator.NewResolver(s.indicators, logger.Named("resolver"))
	s.ledger = ledger.New(d, s.resolver, logger.Named("ledger"))

	s.engine = engine.New(d, s.ledger, engine.Options{
		Test: engine.TestMode{Enabled: cfg.Test.Enabled, Rate: cfg.Test.Rate},
	}, logger.Named("engine"))
	if beadsFlag {
		if beads.Available() {
			s.engine.AddNotifier(beads.NewNotifier(beads.NewClient(nil), logger.Named("beads")))
		} else {
			logger.Warn("bd not found on PATH, not filing beads")
		}
	}

	doer := transport.NewRetryClient(&http.Client{Timeout: cfg.Node.Timeout}, cfg.Node.Retries, logger.Named("http"))
	s.node = transport.NewClient(cfg.Node.URL, doer, logger.Named("node"))

	s.queue = incident.New(d, s.node, s.resolver, incident.Options{
		Contact:     cfg.Reports.Contact,
		WithTest:    cfg.Test.Enabled && cfg.Test.Report,
		Concurrency: cfg.Reports.Concurrency,
	}, logger.Named("incidents"))

	s.syncer = psync.New(d, s.indicators, s.resolver, s.node, s.queue, psync.Options{
		UseFilter:  cfg.Sync.Filter,
		FPRate:     cfg.Sync.FPRate,
		FilterPath: filepath.Join(filepath.Dir(d.Path()), "filter.json"),
	}, logger.Named("sync"))

	var err error
	if cfg.Guard.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.Guard.RedisAddr})
		s.guard, err = guard.NewRedis(s.redis, "", cfg.Guard.TTL)
	} else {
		s.guard, err = guard.NewDB(d, cfg.Guard.TTL)
	}
	if err != nil {
		if s.redis != nil {
			s.redis.Close()
		}
		return nil, err
	}
	return s, nil
}

// guarded runs fn under the named operation guard and turns a busy guard
// into a friendly error.
func guarded(ctx context.Context, name string, fn func(context.Context) error) error {
	err := guard.Run(ctx, svc.guard, name, fn)
	if errors.Is(err, guard.ErrBusy) {
		return fmt.Errorf("%s is already running", name)
	}
	return err
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pb version %s\n", Version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize .phishbeads/ in the project root",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := db.FindProjectRoot()
		if root == "" {
			return fmt.Errorf("could not find project root (no .git directory found)")
		}

		dbPath := filepath.Join(root, dataDir, "phish.db")
		s, err := db.Open(dbPath)
		if err != nil {
			return err
		}
		s.Close()

		cfgPath := filepath.Join(root, dataDir, config.FileName)
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if err := config.Write(cfgPath, config.Default()); err != nil {
				return err
			}
		}

		// Add .phishbeads/ to .gitignore if not already present
		ensureGitignore(root)

		if !quietFlag {
			fmt.Printf("Initialized phishbeads at %s\n", dbPath)
			fmt.Printf("Edit %s to point at your node, then run 'pb sync --full'.\n", cfgPath)
		}
		return nil
	},
}

// ensureGitignore adds .phishbeads/ to .gitignore if not already present.
func ensureGitignore(root string) {
	gitignorePath := filepath.Join(root, ".gitignore")
	entry := dataDir + "/"

	if f, err := os.Open(gitignorePath); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == entry || line == dataDir {
				f.Close()
				return
			}
		}
		f.Close()
	}

	data, _ := os.ReadFile(gitignorePath)
	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return // silently skip if can't write
	}
	defer f.Close()
	if len(data) > 0 && data[len(data)-1] != '\n' {
		f.WriteString("\n")
	}
	fmt.Fprintf(f, "\n# Phishbeads database (indicators and incidents)\n%s\n", entry)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: auto-discover .phishbeads/phish.db)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: config.yaml next to the database)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&beadsFlag, "beads", false, "File suspicious emails as beads issues")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
