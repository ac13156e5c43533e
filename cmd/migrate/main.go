package main

import (
	"os"

	"github.com/iridiumtao/NYU-Marketplace/internal/config"
	"github.com/iridiumtao/NYU-Marketplace/migrations"
	"github.com/iridiumtao/NYU-Marketplace/pkg/logger"
	"go.uber.org/zap"
)

// Applies or rolls back the embedded SQL migrations without starting
// the server: `migrate` / `migrate up` runs everything pending,
// `migrate down` reverts the last one.
func main() {
	cfg := config.Load()

	if err := logger.Init(logger.Config{
		FileName:   cfg.Log.FileName,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Level:      cfg.Log.Level,
	}, cfg.App.Env); err != nil {
		panic(err)
	}
	defer zap.L().Sync()

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	switch direction {
	case "up":
		if err := migrations.Run(cfg.DB.URL()); err != nil {
			zap.L().Fatal("migration failed", zap.Error(err))
		}
	case "down":
		if err := migrations.Rollback(cfg.DB.URL()); err != nil {
			zap.L().Fatal("rollback failed", zap.Error(err))
		}
	default:
		zap.L().Fatal("unknown direction, want up or down", zap.String("arg", direction))
	}
}
