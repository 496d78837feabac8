package main

import (
	"context"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"siteplan/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	tables := []string{os.Getenv("TASKS_TABLE")}
	if err := storage.EnsureTables(ctx, connStr, tables...); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	queues := []string{os.Getenv("EVENTS_QUEUE")}
	if err := storage.EnsureQueues(ctx, connStr, queues...); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	log.WithFields(log.Fields{"tables": tables, "queues": queues}).Info("storage init complete")
}
