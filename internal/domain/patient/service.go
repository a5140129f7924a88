package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	patients Repository
}

func NewService(patients Repository) *Service {
	return &Service{patients: patients}
}

func (s *Service) Register(ctx context.Context, p *Patient) error {
	p.MRN = strings.TrimSpace(p.MRN)
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("%w: first_name and last_name are required", ErrInvalid)
	}
	if p.MRN == "" {
		return fmt.Errorf("%w: mrn is required", ErrInvalid)
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// Lookup resolves a batch of ids for invoice enrichment.
func (s *Service) Lookup(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Patient, error) {
	return s.patients.ListByIDs(ctx, ids)
}
