package patient

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo backs the in-memory server mode and tests.
type MemoryRepo struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]Patient
	byMRN map[string]uuid.UUID
	now   func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:  make(map[uuid.UUID]Patient),
		byMRN: make(map[string]uuid.UUID),
		now:   time.Now,
	}
}

func (m *MemoryRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byMRN[p.MRN]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMRN, p.MRN)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = m.now().UTC()
	m.byID[p.ID] = *p
	m.byMRN[p.MRN] = p.ID
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryRepo) ListByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uuid.UUID]*Patient, len(ids))
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out[id] = &p
		}
	}
	return out, nil
}

func (m *MemoryRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	m.mu.RLock()
	all := make([]*Patient, 0, len(m.byID))
	for _, p := range m.byID {
		p := p
		all = append(all, &p)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].LastName != all[j].LastName {
			return all[i].LastName < all[j].LastName
		}
		if all[i].FirstName != all[j].FirstName {
			return all[i].FirstName < all[j].FirstName
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	total := len(all)
	if offset >= total {
		return []*Patient{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}
