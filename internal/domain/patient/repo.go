package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// ListByIDs returns the patients that exist among ids keyed by id.
	// Unknown ids are absent from the map, not an error.
	ListByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}
