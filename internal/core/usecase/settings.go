package usecase

import (
	"context"
	"strings"
	"sync"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/core/ports"
)

type SettingsOption func(*SettingsStore)

// WithSettingsRepository keeps settings in a store shared by every process.
// The initial settings then only apply until the first update is saved.
func WithSettingsRepository(repo ports.SettingsRepository) SettingsOption {
	return func(s *SettingsStore) {
		s.repo = repo
	}
}

// SettingsStore holds engine credentials, in memory unless a repository is set.
type SettingsStore struct {
	mu      sync.RWMutex
	current domain.Settings
	repo    ports.SettingsRepository
}

func NewSettingsStore(initial domain.Settings, opts ...SettingsOption) *SettingsStore {
	s := &SettingsStore{current: normalizeSettings(initial)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SettingsStore) Snapshot(ctx context.Context) (domain.Settings, error) {
	if s.repo == nil {
		return s.local(), nil
	}
	stored, ok, err := s.repo.Load(ctx)
	if err != nil {
		return domain.Settings{}, domain.WrapError(domain.ErrTemporary, "load settings", err)
	}
	if !ok {
		return s.local(), nil
	}
	return normalizeSettings(stored), nil
}

func (s *SettingsStore) View(ctx context.Context) (domain.SettingsView, error) {
	current, err := s.Snapshot(ctx)
	if err != nil {
		return domain.SettingsView{}, err
	}
	return current.View(), nil
}

func (s *SettingsStore) Update(ctx context.Context, patch domain.SettingsPatch) (domain.SettingsView, error) {
	return s.modify(ctx, func(current *domain.Settings) {
		if patch.APIKey != nil {
			current.APIKey = *patch.APIKey
		}
		if patch.BaseURL != nil {
			current.BaseURL = *patch.BaseURL
		}
	})
}

func (s *SettingsStore) ClearAPIKey(ctx context.Context) (domain.SettingsView, error) {
	return s.modify(ctx, func(current *domain.Settings) {
		current.APIKey = ""
	})
}

func (s *SettingsStore) modify(ctx context.Context, mutate func(*domain.Settings)) (domain.SettingsView, error) {
	if s.repo == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		mutate(&s.current)
		s.current = normalizeSettings(s.current)
		return s.current.View(), nil
	}
	saved, err := s.repo.Modify(ctx, s.local(), func(current *domain.Settings) {
		mutate(current)
		*current = normalizeSettings(*current)
	})
	if err != nil {
		return domain.SettingsView{}, domain.WrapError(domain.ErrTemporary, "save settings", err)
	}
	return saved.View(), nil
}

func (s *SettingsStore) local() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func normalizeSettings(in domain.Settings) domain.Settings {
	return domain.Settings{
		APIKey:  strings.TrimSpace(in.APIKey),
		BaseURL: strings.TrimRight(strings.TrimSpace(in.BaseURL), "/"),
	}
}
