package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"starforge/internal/config"
	"starforge/internal/domain"
	"starforge/internal/repo"
)

// ResolveGalaxyAndConfig picks the active galaxy and ensures a galaxy +
// config exist in DB, seeding defaults if missing. It prefers overrides,
// then single-galaxy DB. If the galaxy does not exist, it is created on
// the fly with the acting user as maintainer.
func ResolveGalaxyAndConfig(ctx context.Context, galaxyOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	galaxyID := galaxyOverride
	if galaxyID == "" {
		if g, err := r.SingleGalaxy(ctx); err == nil {
			galaxyID = g.ID
		} else {
			return "", nil, fmt.Errorf("galaxy not specified; use --galaxy")
		}
	}
	seedCfg := config.Default(galaxyID)

	if _, err := r.GetGalaxy(ctx, galaxyID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createGalaxy(ctx, r, galaxyID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetGalaxyConfig(ctx, galaxyID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertGalaxyConfig(ctx, galaxyID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed galaxy config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Galaxy.ID = galaxyID
	return galaxyID, cfg, nil
}

// createGalaxy inserts a minimal galaxy footprint using the seed config.
func createGalaxy(ctx context.Context, r repo.Repo, galaxyID string, seedCfg *config.Config, actorID string) error {
	if seedCfg == nil {
		seedCfg = config.Default(galaxyID)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := r.GetStakeholder(ctx, actorID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		s := domain.Stakeholder{ID: actorID, Nickname: actorID, Role: "maintainer", CreatedAt: now}
		if err := r.InsertStakeholder(ctx, s); err != nil {
			return fmt.Errorf("ensure maintainer: %w", err)
		}
	}
	g := domain.Galaxy{
		ID:           galaxyID,
		Name:         galaxyID,
		MaintainerID: actorID,
		CreatedAt:    now,
	}
	if err := r.InsertGalaxy(ctx, g); err != nil {
		return fmt.Errorf("insert galaxy: %w", err)
	}
	if err := r.UpsertGalaxyConfig(ctx, galaxyID, seedCfg); err != nil {
		return fmt.Errorf("insert galaxy config: %w", err)
	}
	return nil
}
