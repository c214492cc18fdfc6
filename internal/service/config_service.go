package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/botledger/internal/domain"
	"github.com/alanyoungcy/botledger/internal/guard"
)

// ConfigService owns the global config singleton: the authorities, the
// emergency pause flag and the aggregate counters.
type ConfigService struct {
	store  domain.ConfigStore
	sink   domain.EventSink
	logger *slog.Logger
	now    func() time.Time
}

// NewConfigService creates a ConfigService.
func NewConfigService(store domain.ConfigStore, sink domain.EventSink, logger *slog.Logger) *ConfigService {
	return &ConfigService{
		store:  store,
		sink:   sink,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Initialize creates the singleton. It fails with ErrAlreadyInitialized on
// every call after the first.
func (s *ConfigService) Initialize(ctx context.Context, deployer, protocol, emergency domain.Identity) (domain.GlobalConfig, error) {
	if err := guard.All(
		guard.ValidIdentity(deployer),
		guard.ValidIdentity(protocol),
		guard.ValidIdentity(emergency),
	); err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("config_service: initialize: %w", err)
	}

	now := s.now()
	cfg := domain.GlobalConfig{
		ProtocolAuthority:  protocol,
		EmergencyAuthority: emergency,
		InitializedAt:      now,
		UpdatedAt:          now,
	}
	if err := s.store.Init(ctx, cfg); err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("config_service: initialize: %w", err)
	}

	emitEvent(ctx, s.sink, s.logger, domain.Event{
		Name:  domain.EventConfigInitialized,
		Actor: deployer,
		Fields: map[string]any{
			"protocol_authority":  protocol.Hex(),
			"emergency_authority": emergency.Hex(),
		},
		At: now,
	})
	s.logger.InfoContext(ctx, "config_service: initialized",
		slog.String("protocol_authority", protocol.Hex()),
		slog.String("emergency_authority", emergency.Hex()),
	)
	return cfg, nil
}

// Get returns the current config or ErrNotInitialized.
func (s *ConfigService) Get(ctx context.Context) (domain.GlobalConfig, error) {
	cfg, err := s.store.Get(ctx)
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("config_service: get: %w", err)
	}
	return cfg, nil
}

// EnsureNotPaused returns the config when mutations are admitted.
func (s *ConfigService) EnsureNotPaused(ctx context.Context) (domain.GlobalConfig, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return domain.GlobalConfig{}, err
	}
	if err := guard.NotPaused(cfg)(); err != nil {
		return domain.GlobalConfig{}, err
	}
	return cfg, nil
}

// Pause sets the kill switch. Either authority may call it.
func (s *ConfigService) Pause(ctx context.Context, caller domain.Identity) (bool, error) {
	return s.setPaused(ctx, caller, true)
}

// Resume clears the kill switch. Either authority may call it.
func (s *ConfigService) Resume(ctx context.Context, caller domain.Identity) (bool, error) {
	return s.setPaused(ctx, caller, false)
}

func (s *ConfigService) setPaused(ctx context.Context, caller domain.Identity, paused bool) (bool, error) {
	op, name := "resume", domain.EventSystemResumed
	if paused {
		op, name = "pause", domain.EventSystemPaused
	}

	cfg, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	if err := guard.OneOf(caller, cfg.ProtocolAuthority, cfg.EmergencyAuthority)(); err != nil {
		return cfg.IsPaused, fmt.Errorf("config_service: %s: %w", op, err)
	}

	now := s.now()
	cfg, err = s.store.SetPaused(ctx, paused, now)
	if err != nil {
		return false, fmt.Errorf("config_service: %s: %w", op, err)
	}

	emitEvent(ctx, s.sink, s.logger, domain.Event{Name: name, Actor: caller, At: now})
	s.logger.WarnContext(ctx, "config_service: pause flag changed",
		slog.Bool("paused", cfg.IsPaused),
		slog.String("caller", caller.Hex()),
	)
	return cfg.IsPaused, nil
}

// SetAuthorities reassigns both authorities. Only the protocol authority may
// call it, and it stays available while paused.
func (s *ConfigService) SetAuthorities(ctx context.Context, caller, protocol, emergency domain.Identity) (domain.GlobalConfig, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return domain.GlobalConfig{}, err
	}
	if err := guard.All(
		guard.Signer(cfg.ProtocolAuthority, caller),
		guard.ValidIdentity(protocol),
		guard.ValidIdentity(emergency),
	); err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("config_service: set authorities: %w", err)
	}

	now := s.now()
	updated, err := s.store.SetAuthorities(ctx, protocol, emergency, now)
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("config_service: set authorities: %w", err)
	}

	emitEvent(ctx, s.sink, s.logger, domain.Event{
		Name:  domain.EventAuthoritiesUpdated,
		Actor: caller,
		Fields: map[string]any{
			"old_protocol_authority":  cfg.ProtocolAuthority.Hex(),
			"new_protocol_authority":  protocol.Hex(),
			"old_emergency_authority": cfg.EmergencyAuthority.Hex(),
			"new_emergency_authority": emergency.Hex(),
		},
		At: now,
	})
	return updated, nil
}
