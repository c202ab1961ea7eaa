// Package repository provides data access layer implementations.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/saltfish/backtestlab/internal/db"
	"github.com/saltfish/backtestlab/internal/domain"
)

// RunRepository defines the interface for run journal data access.
type RunRepository interface {
	// EnsureSchema creates the journal table if it does not exist.
	EnsureSchema(ctx context.Context) error

	// Create inserts a newly submitted run.
	Create(ctx context.Context, run *domain.Run) error

	// Update overwrites the mutable fields of a run.
	Update(ctx context.Context, run *domain.Run) error

	// GetByID retrieves a run by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)

	// List returns runs newest first with the total matching count.
	List(ctx context.Context, query domain.RunQuery) ([]*domain.Run, int, error)
}

// Repositories aggregates all repository interfaces.
type Repositories struct {
	Run RunRepository
}

// NewRepositories creates all repositories with the given pool.
func NewRepositories(pool *db.Pool) *Repositories {
	return &Repositories{
		Run: NewRunRepository(pool),
	}
}
