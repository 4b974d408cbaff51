package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service migrates every model registered in the "models" value group.
type Service struct {
	db     *gorm.DB
	models []any
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Models []any `group:"models"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		models: p.Models,
	}
}

func (s *Service) Migrate(ctx context.Context) error {
	if len(s.models) == 0 {
		zap.L().Warn("[bootstrap] No models registered, skipping migration")
		return nil
	}

	if err := s.db.WithContext(ctx).AutoMigrate(s.models...); err != nil {
		zap.L().Error("[bootstrap] Schema migration failed", zap.Error(err))
		return fmt.Errorf("migrate schema: %w", err)
	}

	zap.L().Info("[bootstrap] Schema migrated", zap.Int("models", len(s.models)))
	return nil
}
