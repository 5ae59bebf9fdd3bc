package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/voicewire/gateway/internal/orders"
)

func main() {
	file := flag.String("file", "samples/orders.json", "store seed JSON file")
	databaseURL := flag.String("database-url", envOr("ORDERS_DATABASE_URL", ""), "Postgres connection string")
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "usage: seed --database-url postgres://... [--file samples/orders.json]")
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	data, err := os.ReadFile(*file)
	if err != nil {
		slog.Error("read seed file", "path", *file, "error", err)
		os.Exit(1)
	}

	sd, err := orders.ParseSeed(data)
	if err != nil {
		slog.Error("parse seed file", "error", err)
		os.Exit(1)
	}

	store, err := orders.Open(*databaseURL)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, p := range sd.Products {
		if err = store.UpsertProduct(ctx, p.ID, p.Name, p.SKU, p.Price); err != nil {
			slog.Error("upsert product", "product", p.ID, "error", err)
			os.Exit(1)
		}
	}

	for _, o := range sd.Orders {
		if err = store.Upsert(ctx, o, sd.Items[o.ID]); err != nil {
			slog.Error("upsert order", "order", o.ID, "error", err)
			os.Exit(1)
		}
	}

	slog.Info("seed complete", "products", len(sd.Products), "orders", len(sd.Orders))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
