// Command dbctl-server is the dbctl control-plane binary: it loads
// configuration from the environment, wires the metadata store, container
// driver, backup store, query executor, and instance manager together, then
// serves the HTTP API until terminated. Grounded on original_source's
// main.rs (axum server bootstrap, startup reconciliation, sweeper task).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/skeema/dbctl/internal/api"
	"github.com/skeema/dbctl/internal/backup"
	"github.com/skeema/dbctl/internal/config"
	"github.com/skeema/dbctl/internal/containerdriver"
	"github.com/skeema/dbctl/internal/instance"
	"github.com/skeema/dbctl/internal/metadata"
	"github.com/skeema/dbctl/internal/query"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := metadata.Open(cfg.MetadataDBPath)
	if err != nil {
		log.WithError(err).Fatal("failed to open metadata store")
	}
	defer store.Close()

	driver, err := containerdriver.New()
	if err != nil {
		log.WithError(err).Fatal("failed to connect to docker")
	}

	var backupStore instance.BackupStore
	if cfg.BackupEnabled() {
		bs, err := backup.New(ctx, backup.Config{
			AccountID:       cfg.R2AccountID,
			Bucket:          cfg.R2Bucket,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretKey,
		})
		if err != nil {
			log.WithError(err).Fatal("failed to configure backup store")
		}
		backupStore = bs
	} else {
		log.Warn("backup store not configured: idle instances will be destroyed outright on expiry")
	}

	queryExec := query.NewExecutor(driver)
	manager := instance.New(driver, store, backupStore, queryExec, cfg.ContainerMemoryMB)

	recovered, err := manager.RecoverExistingInstances(ctx)
	if err != nil {
		log.WithError(err).Fatal("startup reconciliation failed")
	}
	log.WithField("instances", recovered).Info("startup reconciliation complete")

	go manager.RunSweeper(ctx, cfg.InactivityTimeout)

	srv := api.New(manager, driver, cfg.InactivityTimeout, cfg.QueryTimeout)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: srv.Router(),
	}

	go func() {
		log.WithField("addr", httpServer.Addr).Info("dbctl-server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
		os.Exit(1)
	}
}
