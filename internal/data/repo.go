package data

import (
	"context"
	"fmt"

	"obs-showctl/internal/model"
)

// ShowStore is durable CRUD for show definitions.
type ShowStore interface {
	// ListShowNames returns every stored show name.
	ListShowNames(ctx context.Context) ([]string, error)

	// GetShow returns model.ErrNotFound when the show is not stored.
	GetShow(ctx context.Context, name string) (*model.Show, error)

	// CreateShow returns model.ErrAlreadyExists when the name is taken.
	CreateShow(ctx context.Context, show *model.Show) error

	// ReplaceShow overwrites the show stored under name. show.Name may differ
	// from name, which renames it.
	ReplaceShow(ctx context.Context, name string, show *model.Show) error

	DeleteShow(ctx context.Context, name string) error
}

// InstanceSource lists the instances the pool should connect to.
type InstanceSource interface {
	ListInstances(ctx context.Context) ([]model.Instance, error)
}

// InstanceStore is durable CRUD for instance credentials.
type InstanceStore interface {
	InstanceSource
	SaveInstance(ctx context.Context, inst model.Instance) error
	DeleteInstance(ctx context.Context, id string) error
}

// ConfigStore is the full persistence surface.
type ConfigStore interface {
	ShowStore
	InstanceStore
	Close() error
}

// StaticInstances is an InstanceSource backed by configuration.
type StaticInstances []model.Instance

func (s StaticInstances) ListInstances(context.Context) ([]model.Instance, error) {
	return append([]model.Instance(nil), s...), nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrStoreUnavailable, op, err)
}
