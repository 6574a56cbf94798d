package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/coderkp/order-fill-tracker/internal/repository"
)

func main() {
	var (
		list  bool
		limit int
	)

	flag.BoolVar(&list, "list", false, "print the roll-up after recomputing")
	flag.IntVar(&limit, "limit", 100, "rows to print with --list")
	flag.Parse()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = os.Getenv("DB_URL")
	}
	if databaseURL == "" {
		log.Fatal("DATABASE_URL or DB_URL is required")
	}

	repo, err := repository.NewRepository(databaseURL)
	if err != nil {
		log.Fatalf("failed to connect repository: %v", err)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	started := time.Now()
	n, err := repo.RecomputeArbPerformance(ctx)
	if err != nil {
		log.Fatalf("[arb_performance] recompute failed: %v", err)
	}
	log.Printf("[arb_performance] recomputed %d stitches in %s", n, time.Since(started).Truncate(time.Millisecond))

	if list {
		rows, err := repo.ListArbPerformance(ctx, limit)
		if err != nil {
			log.Fatalf("[arb_performance] list failed: %v", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				log.Fatalf("[arb_performance] encode failed: %v", err)
			}
		}
	}
}
