package memory

import (
	"context"
	"sort"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// PositionStore implements domain.PositionStore in memory.
type PositionStore struct {
	db *DB
}

var _ domain.PositionStore = (*PositionStore)(nil)

func (s *PositionStore) Open(_ context.Context, p domain.Position, d domain.Delegation) (domain.Position, domain.Delegation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.config == nil {
		return domain.Position{}, domain.Delegation{}, domain.ErrNotInitialized
	}
	if err := s.db.checkDelegation(d); err != nil {
		return domain.Position{}, domain.Delegation{}, err
	}
	if _, ok := s.db.positions[p.Key()]; ok {
		return domain.Position{}, domain.Delegation{}, domain.ErrAlreadyExists
	}
	total, err := domain.CheckedAddU64(s.db.config.TotalPositions, 1)
	if err != nil {
		return domain.Position{}, domain.Delegation{}, err
	}

	p.Version = 1
	d.Version++
	s.db.positions[p.Key()] = copyPosition(p)
	s.db.delegations[d.User] = d
	s.db.config.TotalPositions = total
	return copyPosition(p), d, nil
}

func (s *PositionStore) Close(_ context.Context, p domain.Position, d domain.Delegation) (domain.Position, domain.Delegation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cur, ok := s.db.positions[p.Key()]
	if !ok {
		return domain.Position{}, domain.Delegation{}, domain.ErrNotFound
	}
	if cur.Version != p.Version || cur.Status != domain.PositionStatusOpen {
		return domain.Position{}, domain.Delegation{}, domain.ErrVersionConflict
	}
	if err := s.db.checkDelegation(d); err != nil {
		return domain.Position{}, domain.Delegation{}, err
	}

	p.Version++
	d.Version++
	s.db.positions[p.Key()] = copyPosition(p)
	s.db.delegations[d.User] = d
	return copyPosition(p), d, nil
}

func (s *PositionStore) Get(_ context.Context, key domain.PositionKey) (domain.Position, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	p, ok := s.db.positions[key]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return copyPosition(p), nil
}

func (s *PositionStore) Delete(_ context.Context, key domain.PositionKey, version int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cur, ok := s.db.positions[key]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status == domain.PositionStatusOpen {
		return domain.ErrPositionStillOpen
	}
	if cur.Version != version {
		return domain.ErrVersionConflict
	}
	delete(s.db.positions, key)
	return nil
}

func (s *PositionStore) List(_ context.Context, filter domain.PositionFilter, opts domain.ListOpts) ([]domain.Position, error) {
	s.db.mu.RLock()
	var out []domain.Position
	for _, p := range s.db.positions {
		if filter.Delegation != "" && p.Delegation != filter.Delegation {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if opts.Since != nil && p.OpenedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && p.OpenedAt.After(*opts.Until) {
			continue
		}
		out = append(out, copyPosition(p))
	}
	s.db.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Delegation != out[j].Delegation {
			return out[i].Delegation < out[j].Delegation
		}
		return out[i].Seq < out[j].Seq
	})
	return paginate(out, opts), nil
}
