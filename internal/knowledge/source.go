package knowledge

import (
	"context"
	"sort"
	"sync"
)

// Source supplies packs and rules to the registry. Content is produced by
// the external authoring pipeline; sources are read-only.
type Source interface {
	// LatestPack returns the newest non-superseded pack for a domain,
	// or nil if the domain has none.
	LatestPack(ctx context.Context, domain string) (*Pack, error)

	// PackByID returns a pack regardless of supersession, or nil.
	PackByID(ctx context.Context, id string) (*Pack, error)

	// PackRules returns all rules of a pack.
	PackRules(ctx context.Context, packID string) ([]Rule, error)
}

// MemorySource is an in-process Source for tests and embedded fixtures.
type MemorySource struct {
	mu    sync.RWMutex
	packs map[string]*Pack
	rules map[string][]Rule // pack id → rules
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		packs: make(map[string]*Pack),
		rules: make(map[string][]Rule),
	}
}

// AddPack registers a pack and its rules.
func (s *MemorySource) AddPack(p *Pack, rules []Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.packs[p.ID] = &cp
	s.rules[p.ID] = append([]Rule(nil), rules...)
}

func (s *MemorySource) LatestPack(_ context.Context, domain string) (*Pack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*Pack
	for _, p := range s.packs {
		if p.Domain == domain && p.SupersededBy == "" {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].EffectiveDate.Equal(candidates[j].EffectiveDate) {
			return candidates[i].EffectiveDate.After(candidates[j].EffectiveDate)
		}
		return candidates[i].Version > candidates[j].Version
	})
	cp := *candidates[0]
	return &cp, nil
}

func (s *MemorySource) PackByID(_ context.Context, id string) (*Pack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.packs[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemorySource) PackRules(_ context.Context, packID string) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Rule(nil), s.rules[packID]...), nil
}
