package main

import (
	"context"
	"os"

	"github.com/dmlopezc/bizgate-backend/internal/roles"
	"github.com/dmlopezc/bizgate-backend/pkg/config"
	"github.com/dmlopezc/bizgate-backend/pkg/db"
	"github.com/dmlopezc/bizgate-backend/pkg/db/models"
	pkgerrors "github.com/dmlopezc/bizgate-backend/pkg/errors"
	"github.com/dmlopezc/bizgate-backend/pkg/logger"
	"github.com/joho/godotenv"
)

// Seeds the roles registration depends on. Safe to run repeatedly.
func main() {
	logg := logger.New(logger.Options{ServiceName: "seed"})
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "seed",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	service, err := roles.NewService(roles.ServiceParams{
		Repo: roles.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(ctx, "failed to create role service", err)
		os.Exit(1)
	}

	for _, name := range []string{models.RoleOwner} {
		role, err := service.CreateRole(ctx, name)
		if err != nil {
			if pkgerrors.CodeOf(err) == pkgerrors.CodeConflict {
				logg.Info(logg.WithField(ctx, "role", name), "role already seeded")
				continue
			}
			logg.Error(ctx, "failed to seed role", err)
			os.Exit(1)
		}
		logg.Info(logg.WithFields(ctx, map[string]any{
			"role":    role.Name,
			"role_id": role.ID.String(),
		}), "role seeded")
	}
}
