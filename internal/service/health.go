package service

import (
	"context"

	"go.uber.org/zap"
)

type HealthRepository interface {
	IsOK(ctx context.Context) (bool, error)
}

type HealthService struct {
	log  *zap.Logger
	repo HealthRepository
}

func NewHealthService(log *zap.Logger, repo HealthRepository) *HealthService {
	return &HealthService{
		log:  log,
		repo: repo,
	}
}

func (s *HealthService) IsOK(ctx context.Context) (bool, error) {
	ok, err := s.repo.IsOK(ctx)
	if err != nil {
		s.log.Error("Health check failed", zap.Error(err))

		return false, err
	}

	return ok, nil
}
