// Command server runs butterfly_db's unified TCP+HTTP front end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/butterflydb/butterflydb/internal/admission"
	"github.com/butterflydb/butterflydb/internal/config"
	"github.com/butterflydb/butterflydb/internal/netfront"
	"github.com/butterflydb/butterflydb/internal/pool"
	"github.com/butterflydb/butterflydb/internal/seed"
	"github.com/butterflydb/butterflydb/internal/storage"
)

var (
	flagConfig         = flag.String("config", "", "path to a TOML config file (defaults applied for any missing section)")
	flagPrintConfig    = flag.Bool("print-config", false, "print the effective configuration and exit without starting the server")
	flagDataDir        = flag.String("data-dir", "", "override the resource section's default_path for data files")
	flagCompactSchedule = flag.String("compact-schedule", "", "cron expression for periodic table compaction (disabled if empty)")
	flagSeed            = flag.String("seed", "", "path to a YAML seed document applied at startup (disabled if empty)")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *flagConfig != "" {
		loaded, err := config.Load(*flagConfig)
		if err != nil {
			log.Fatalf("server: %v", err)
		}
		cfg = loaded
	}

	if *flagPrintConfig {
		fmt.Print(cfg.String())
		return
	}

	dataDir := cfg.Resource.DefaultPath
	if *flagDataDir != "" {
		dataDir = *flagDataDir
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("server: create data dir %s: %v", dataDir, err)
	}

	catPath, err := storage.DefaultCatalogPath()
	if err != nil {
		log.Fatalf("server: %v", err)
	}
	cat, err := storage.NewCatalog(catPath)
	if err != nil {
		log.Fatalf("server: open catalog: %v", err)
	}
	eng := storage.NewEngine(dataDir)
	if err := eng.LoadAll(); err != nil {
		log.Fatalf("server: load tables: %v", err)
	}

	if *flagSeed != "" {
		doc, err := seed.Load(*flagSeed)
		if err != nil {
			log.Fatalf("server: %v", err)
		}
		if err := seed.Apply(cat, eng, doc); err != nil {
			log.Fatalf("server: %v", err)
		}
	}

	connPool := pool.New(
		cfg.Pool.MaxConnections,
		time.Duration(cfg.Pool.ConnectionTimeoutMs)*time.Millisecond,
		cfg.Pool.MinConnections,
		time.Duration(cfg.Pool.IdleTimeoutMs)*time.Millisecond,
	)

	var admit *admission.Controller
	if cfg.Resource.EnableRateLimiting {
		admit = admission.New(admission.Thresholds{
			MaxCPUPercent: cfg.Resource.MaxCPUPercent,
			MaxRAMUsageMB: cfg.Resource.MaxRAMUsage,
		})
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	srv := &netfront.Server{
		Catalog:   cat,
		Engine:    eng,
		Pool:      connPool,
		Admission: admit,
		Logger:    logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := startCompactionSchedule(eng, logger, *flagCompactSchedule)
	if sched != nil {
		defer sched.Stop()
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Printf("server: shutting down")
		cancel()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Network.BindAddress, cfg.Network.Port)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// startCompactionSchedule wires github.com/robfig/cron/v3 to a periodic
// CompactAll sweep: every Update and Delete only ever appends fresh B+
// tree keys, so a schedule like this is how reclaiming that space happens
// in practice. Returns nil if no schedule was configured.
func startCompactionSchedule(eng *storage.Engine, logger *log.Logger, expr string) *cron.Cron {
	if expr == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		if err := eng.CompactAll(); err != nil {
			logger.Printf("server: compaction: %v", err)
		}
	})
	if err != nil {
		logger.Printf("server: invalid compact-schedule %q: %v", expr, err)
		return nil
	}
	c.Start()
	return c
}
