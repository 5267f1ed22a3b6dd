package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/config"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog/sqlite"
)

func main() {
	cfg, err := config.LoadProvision()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	config.ConfigureLogging(cfg.Debug)
	log.Info("storage init starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Storage.Backend == config.BackendSQLite {
		// Opening applies the schema.
		st, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		_ = st.Close()
		log.Infof("sqlite event log ready at %s", cfg.Storage.SQLitePath)
	}

	if tables := cfg.Storage.Tables(); len(tables) > 0 {
		svc, err := aztables.NewServiceClientFromConnectionString(cfg.Storage.ConnectionString, nil)
		if err != nil {
			log.Fatalf("table service: %v", err)
		}
		if err := createTables(ctx, svc, tables); err != nil {
			log.Fatalf("create tables: %v", err)
		}
	}

	if cfg.Storage.EventsQueue != "" {
		svc, err := azqueue.NewServiceClientFromConnectionString(cfg.Storage.ConnectionString, nil)
		if err != nil {
			log.Fatalf("queue service: %v", err)
		}
		if err := createQueues(ctx, svc, []string{cfg.Storage.EventsQueue}); err != nil {
			log.Fatalf("create queues: %v", err)
		}
	}

	log.Info("storage init complete")
}
