package admin

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/repokit/internal/config"
	"github.com/cloo-solutions/repokit/internal/logger"
)

const serviceName = "repokitd"

// environment loads configuration and puts a logger for it on the context.
func environment(ctx context.Context) (context.Context, *config.Config, logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return ctx, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.NewLogger(serviceName, cfg.IsProduction(), cfg.LogLevel)
	return logger.WithLogger(ctx, log), cfg, log, nil
}
