package config

import (
	"sync/atomic"

	"subscription_split_bot/internal/domain/reminder"
)

// Provider serves the reminder configuration snapshot in force. A pass reads it once and
// keeps that snapshot even if Update swaps it midway.
type Provider struct {
	current atomic.Pointer[reminder.Config]
}

// NewProvider validates the initial snapshot.
func NewProvider(cfg reminder.Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Provider{}
	p.current.Store(&cfg)
	return p, nil
}

func (p *Provider) Current() reminder.Config {
	return *p.current.Load()
}

// Update swaps in cfg. A rejected config leaves the previous one in force.
func (p *Provider) Update(cfg reminder.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.current.Store(&cfg)
	return nil
}
