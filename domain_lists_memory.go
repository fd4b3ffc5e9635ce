package admission

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryDomainLists keeps both lists in process memory.
type MemoryDomainLists struct {
	mu        sync.RWMutex
	whitelist []string
	blacklist []string
}

var _ DomainLists = (*MemoryDomainLists)(nil)

// NewMemoryDomainLists seeds the lists, lower casing every entry.
func NewMemoryDomainLists(whitelist, blacklist []string) *MemoryDomainLists {
	return &MemoryDomainLists{
		whitelist: lowerAll(whitelist),
		blacklist: lowerAll(blacklist),
	}
}

func (m *MemoryDomainLists) Whitelisted(_ context.Context, domain string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.whitelist, strings.ToLower(domain)), nil
}

func (m *MemoryDomainLists) Blacklisted(_ context.Context, domain string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.blacklist, strings.ToLower(domain)), nil
}

func (m *MemoryDomainLists) AddToWhitelist(_ context.Context, domain string) (bool, error) {
	domain = strings.ToLower(domain)
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.Contains(m.whitelist, domain) {
		return false, nil
	}
	m.whitelist = append(m.whitelist, domain)
	return true, nil
}

func (m *MemoryDomainLists) Whitelist(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.whitelist), nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}
