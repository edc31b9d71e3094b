package prefs

import (
	"context"
	"fmt"
	"sync"

	"github.com/docsum/workbench/internal/models"
)

// AppState is the process-wide UI state. It is built once at startup from
// the persisted preference and handed to every component that needs it.
type AppState struct {
	mu        sync.RWMutex
	theme     models.Theme
	store     ThemeStore
	listeners []func(models.Theme)
}

// LoadAppState reads the theme once. A read failure leaves the default theme
// in place and is returned so the caller can log it.
func LoadAppState(ctx context.Context, store ThemeStore) (*AppState, error) {
	a := &AppState{theme: models.DefaultTheme, store: store}
	if store == nil {
		return a, nil
	}
	t, err := store.LoadTheme(ctx)
	if err != nil {
		return a, fmt.Errorf("loading theme: %w", err)
	}
	a.theme = t
	return a, nil
}

// Theme returns the current theme.
func (a *AppState) Theme() models.Theme {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.theme
}

// SetTheme persists t and then notifies listeners. Nothing changes when the
// store rejects the write.
func (a *AppState) SetTheme(ctx context.Context, t models.Theme) error {
	if _, ok := models.ParseTheme(string(t)); !ok {
		return fmt.Errorf("invalid theme %q", t)
	}
	if a.store != nil {
		if err := a.store.SaveTheme(ctx, t); err != nil {
			return err
		}
	}

	a.mu.Lock()
	changed := a.theme != t
	a.theme = t
	listeners := append([]func(models.Theme){}, a.listeners...)
	a.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(t)
		}
	}
	return nil
}

// OnChange registers fn to run after every theme change.
func (a *AppState) OnChange(fn func(models.Theme)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}
