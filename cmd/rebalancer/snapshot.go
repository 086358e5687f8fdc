package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/config"
	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/vsphere"
)

// loadSnapshot reads a JSON inventory snapshot.
func loadSnapshot(path string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("reading snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	return snap, nil
}

// loadPlan reads a plan written by "rebalancer plan --json". Both a bare
// plan and a stored plan record are accepted.
func loadPlan(path string) (*domain.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}

	var doc struct {
		Plan  *domain.Plan  `json:"plan"`
		Moves []domain.Move `json:"moves"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding plan %s: %w", path, err)
	}
	if doc.Plan != nil {
		return doc.Plan, nil
	}
	if doc.Moves == nil {
		return nil, fmt.Errorf("plan %s has no moves", path)
	}
	return &domain.Plan{Moves: doc.Moves}, nil
}

// connectVSphere connects to the configured vCenter. The caller must
// disconnect the returned client.
func connectVSphere(ctx context.Context, cfg config.VSphereConfig, logger *zap.Logger) (*vsphere.Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("no snapshot file given and vsphere.host is not configured")
	}
	client := vsphere.NewClient(cfg, logger)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// obtainSnapshot loads the snapshot file when path is set and collects the
// live inventory otherwise.
func obtainSnapshot(ctx context.Context, cfg *config.Config, path string, logger *zap.Logger) (domain.Snapshot, error) {
	if path != "" {
		return loadSnapshot(path)
	}

	client, err := connectVSphere(ctx, cfg.VSphere, logger)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer func() {
		if err := client.Disconnect(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to disconnect from vCenter", zap.Error(err))
		}
	}()
	return client.Snapshot(ctx)
}
