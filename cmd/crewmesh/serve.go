package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crewmesh/crewmesh/internal/api"
	"github.com/crewmesh/crewmesh/internal/coordinator"
	"github.com/crewmesh/crewmesh/internal/database"
	"github.com/crewmesh/crewmesh/internal/messaging"
	"github.com/crewmesh/crewmesh/pkg/config"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the CrewMesh server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "crewmesh.yaml", "Path to configuration file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	broadcast, err := newBroadcast(cfg.Broadcast)
	if err != nil {
		return fmt.Errorf("failed to connect broadcast backend: %w", err)
	}

	substrate := messaging.NewSubstrate(db, broadcast, cfg.Routing.SendRetries)
	coord, err := coordinator.New(cfg, db, substrate)
	if err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	defer coord.Close()

	// Hot-reload of the learning tunables; a broken watcher is not fatal.
	if stop, err := config.Watch(configPath, coord.ApplyLearningConfig); err != nil {
		log.Printf("[Serve] Config watching disabled: %v", err)
	} else {
		defer stop()
	}

	handler := api.NewServer(coord, cfg).SetupRoutes()
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Serve] CrewMesh API listening on %s", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case sig := <-sigCh:
		log.Printf("[Serve] Received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// newBroadcast selects the configured ephemeral notification backend.
func newBroadcast(cfg config.BroadcastConfig) (messaging.Broadcast, error) {
	switch cfg.Backend {
	case "nats":
		return messaging.NewNATSBroadcast(cfg.NATSURL, cfg.Timeout)
	case "redis":
		return messaging.NewRedisBroadcast(cfg.RedisURL)
	default:
		return messaging.NewLocalBroadcast(), nil
	}
}
