package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"buildline/internal/config"
	"buildline/internal/domain"
	"buildline/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a project +
// config row exist in the database, seeding defaults if missing. It prefers
// the override, then the workspace config, then a single-project database.
// A project that does not exist yet is created on the fly.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride string, r repo.Repo) (string, *config.Config, error) {
	projectID := projectOverride
	var fileCfg *config.Config
	if c, err := config.LoadOptional(workspace); err != nil {
		return "", nil, err
	} else if c != nil {
		fileCfg = c
		if projectID == "" {
			projectID = c.Project.ID
		}
	}
	if projectID == "" {
		p, err := r.SingleProject(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("project not specified; use --project or add buildline.yml")
		}
		projectID = p.ID
	}

	seedCfg := fileCfg
	if seedCfg == nil {
		seedCfg = config.Default(projectID)
	}
	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProject(ctx, r, projectID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetProjectConfig(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertProjectConfig(ctx, projectID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed project config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	// The workspace file wins over the stored copy so edits take effect
	// without a separate import step.
	if fileCfg != nil {
		cfg = fileCfg
		if err := r.UpsertProjectConfig(ctx, projectID, fileCfg); err != nil {
			return "", nil, fmt.Errorf("sync project config: %w", err)
		}
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}

func createProject(ctx context.Context, r repo.Repo, projectID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(projectID)
	}
	name := seedCfg.Project.Name
	if name == "" {
		name = projectID
	}
	prefix := seedCfg.Project.CodePrefix
	if prefix == "" {
		prefix = strings.ToUpper(projectID)
	}
	p := domain.Project{
		ID:         projectID,
		Name:       name,
		CodePrefix: prefix,
		Currency:   seedCfg.Project.Currency,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.InsertProject(ctx, p); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if err := r.UpsertProjectConfig(ctx, projectID, seedCfg); err != nil {
		return fmt.Errorf("insert project config: %w", err)
	}
	return nil
}
