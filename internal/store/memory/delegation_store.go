package memory

import (
	"context"
	"sort"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// DelegationStore implements domain.DelegationStore in memory.
type DelegationStore struct {
	db *DB
}

var _ domain.DelegationStore = (*DelegationStore)(nil)

func (s *DelegationStore) Create(_ context.Context, d domain.Delegation) (domain.Delegation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.config == nil {
		return domain.Delegation{}, domain.ErrNotInitialized
	}
	if _, ok := s.db.delegations[d.User]; ok {
		return domain.Delegation{}, domain.ErrAlreadyExists
	}
	total, err := domain.CheckedAddU64(s.db.config.TotalDelegations, 1)
	if err != nil {
		return domain.Delegation{}, err
	}
	d.Version = 1
	s.db.delegations[d.User] = d
	s.db.config.TotalDelegations = total
	return d, nil
}

func (s *DelegationStore) Get(_ context.Context, user domain.Identity) (domain.Delegation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	d, ok := s.db.delegations[user]
	if !ok {
		return domain.Delegation{}, domain.ErrNotFound
	}
	return d, nil
}

func (s *DelegationStore) Update(_ context.Context, d domain.Delegation) (domain.Delegation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.checkDelegation(d); err != nil {
		return domain.Delegation{}, err
	}
	d.Version++
	s.db.delegations[d.User] = d
	return d, nil
}

func (s *DelegationStore) Delete(_ context.Context, user domain.Identity, version int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cur, ok := s.db.delegations[user]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != version {
		return domain.ErrVersionConflict
	}
	delete(s.db.delegations, user)
	if s.db.config != nil && s.db.config.TotalDelegations > 0 {
		s.db.config.TotalDelegations--
	}
	return nil
}

func (s *DelegationStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Delegation, error) {
	s.db.mu.RLock()
	out := make([]domain.Delegation, 0, len(s.db.delegations))
	for _, d := range s.db.delegations {
		if opts.Since != nil && d.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && d.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, d)
	}
	s.db.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].User.Hex() < out[j].User.Hex()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return paginate(out, opts), nil
}

// checkDelegation verifies d matches the stored version. Caller holds mu.
func (db *DB) checkDelegation(d domain.Delegation) error {
	cur, ok := db.delegations[d.User]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.ID != d.ID || cur.Version != d.Version {
		return domain.ErrVersionConflict
	}
	return nil
}
