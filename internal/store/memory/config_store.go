package memory

import (
	"context"
	"time"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// ConfigStore implements domain.ConfigStore in memory.
type ConfigStore struct {
	db *DB
}

var _ domain.ConfigStore = (*ConfigStore)(nil)

func (s *ConfigStore) Init(_ context.Context, cfg domain.GlobalConfig) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.config != nil {
		return domain.ErrAlreadyInitialized
	}
	c := cfg
	s.db.config = &c
	return nil
}

func (s *ConfigStore) Get(_ context.Context) (domain.GlobalConfig, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	if s.db.config == nil {
		return domain.GlobalConfig{}, domain.ErrNotInitialized
	}
	return *s.db.config, nil
}

func (s *ConfigStore) SetPaused(_ context.Context, paused bool, at time.Time) (domain.GlobalConfig, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.config == nil {
		return domain.GlobalConfig{}, domain.ErrNotInitialized
	}
	s.db.config.IsPaused = paused
	s.db.config.UpdatedAt = at
	return *s.db.config, nil
}

func (s *ConfigStore) SetAuthorities(_ context.Context, protocol, emergency domain.Identity, at time.Time) (domain.GlobalConfig, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.config == nil {
		return domain.GlobalConfig{}, domain.ErrNotInitialized
	}
	s.db.config.ProtocolAuthority = protocol
	s.db.config.EmergencyAuthority = emergency
	s.db.config.UpdatedAt = at
	return *s.db.config, nil
}
