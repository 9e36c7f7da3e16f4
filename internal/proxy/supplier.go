package proxy

import (
	"log/slog"
	"sync"

	"github.com/propstream/listing-scrape-worker/config"
)

// Supplier hands out egress endpoints. The fetcher asks for a new one on every
// session rotation; with no endpoints configured all traffic goes direct.
type Supplier interface {
	Next() string
}

type RoundRobinSupplier struct {
	endpoints []string
	pos       int
	mu        sync.Mutex
	log       *slog.Logger
}

func NewRoundRobinSupplier(cfg *config.ProxyConfig, log *slog.Logger) *RoundRobinSupplier {
	s := &RoundRobinSupplier{log: log}
	if cfg != nil {
		s.endpoints = cfg.Endpoints
	}
	if len(s.endpoints) == 0 {
		log.Info("no proxy endpoints configured. using direct egress.")
	} else {
		log.Info("proxy egress enabled.", slog.Int("endpoints", len(s.endpoints)))
	}
	return s
}

// Next returns the next endpoint in rotation, or "" for direct egress.
func (s *RoundRobinSupplier) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.endpoints) == 0 {
		return ""
	}
	e := s.endpoints[s.pos%len(s.endpoints)]
	s.pos++
	return e
}
