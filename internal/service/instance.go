package service

import (
	"context"

	"obs-showctl/internal/data"
	"obs-showctl/internal/model"
)

// InstanceService edits stored instance credentials. Changes reach the pool
// on the next reconnect.
type InstanceService struct {
	repo data.InstanceStore
}

func NewInstanceService(repo data.InstanceStore) *InstanceService {
	return &InstanceService{repo: repo}
}

func (s *InstanceService) Set(ctx context.Context, id, url, password string) error {
	return s.repo.SaveInstance(ctx, model.Instance{ID: id, URL: url, Password: password})
}

func (s *InstanceService) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteInstance(ctx, id)
}

func (s *InstanceService) GetAll(ctx context.Context) ([]model.Instance, error) {
	return s.repo.ListInstances(ctx)
}
