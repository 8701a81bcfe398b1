package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"PricePulse/internal/di"
	"PricePulse/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	runDate := flag.String("run-date", "", "run the pipeline once for this date (YYYY-MM-DD) and exit")
	skusFlag := flag.String("skus", "", "comma-separated SKU subset for -run-date")
	once := flag.Bool("once", false, "run the pipeline once for today and exit")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s model=%s", cfg.Environment, cfg.Model.Version)

	// One-shot mode: execute a single pipeline run and exit.
	if *once || *runDate != "" {
		var skus []string
		if *skusFlag != "" {
			for _, s := range strings.Split(*skusFlag, ",") {
				if s = strings.TrimSpace(s); s != "" {
					skus = append(skus, s)
				}
			}
		}
		if err := di.RunOnce(cfg, *runDate, skus); err != nil {
			log.Printf("run failed: %v", err)
			os.Exit(1)
		}
		return
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	log.Printf("clickhouse: connected and schema ready - db: %s", cfg.ClickHouse.Database)
	log.Printf("kafka: brokers=%v snapshot_topic=%s", cfg.Kafka.Brokers, cfg.Kafka.SnapshotTopic)

	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
