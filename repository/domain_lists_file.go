package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	admission "github.com/goliatone/go-admission"
	goerrors "github.com/goliatone/go-errors"
)

type domainListsDocument struct {
	Whitelist []string `json:"whitelist"`
	Blacklist []string `json:"blacklist"`
}

// FileDomainLists keeps the domain lists in a JSON document of the form
// {"whitelist": [...], "blacklist": [...]}. The document is read once and
// rewritten whenever the whitelist grows.
type FileDomainLists struct {
	path   string
	logger admission.Logger

	mu  sync.RWMutex
	doc domainListsDocument
}

var _ admission.DomainLists = (*FileDomainLists)(nil)

// NewFileDomainLists loads path. A missing file starts both lists empty
// and is created on the first write.
func NewFileDomainLists(path string, logger admission.Logger) (*FileDomainLists, error) {
	if logger == nil {
		logger = admission.DefaultLogger()
	}

	s := &FileDomainLists{path: path, logger: logger}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("domain lists file not found, starting empty", "path", path)
		return s, nil
	case err != nil:
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read domain lists").
			WithMetadata(map[string]any{"path": path})
	}

	if err := json.Unmarshal(raw, &s.doc); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to decode domain lists").
			WithMetadata(map[string]any{"path": path})
	}
	s.doc.Whitelist = normalize(s.doc.Whitelist)
	s.doc.Blacklist = normalize(s.doc.Blacklist)
	return s, nil
}

func (s *FileDomainLists) Whitelisted(_ context.Context, domain string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.doc.Whitelist, strings.ToLower(domain)), nil
}

func (s *FileDomainLists) Blacklisted(_ context.Context, domain string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.doc.Blacklist, strings.ToLower(domain)), nil
}

// AddToWhitelist appends domain and persists the document. The in memory
// list only changes once the write succeeded.
func (s *FileDomainLists) AddToWhitelist(_ context.Context, domain string) (bool, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.doc.Whitelist, domain) {
		s.logger.Info("domain is already in the whitelist", "domain", domain)
		return false, nil
	}

	next := domainListsDocument{
		Whitelist: append(slices.Clone(s.doc.Whitelist), domain),
		Blacklist: s.doc.Blacklist,
	}
	if err := s.write(next); err != nil {
		return false, err
	}
	s.doc = next

	s.logger.Info("domain added to whitelist", "domain", domain)
	return true, nil
}

func (s *FileDomainLists) Whitelist(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.doc.Whitelist), nil
}

// Blacklist returns a copy of the blacklist.
func (s *FileDomainLists) Blacklist(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.doc.Blacklist), nil
}

func (s *FileDomainLists) write(doc domainListsDocument) error {
	if doc.Blacklist == nil {
		doc.Blacklist = []string{}
	}

	raw, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode domain lists")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create domain lists directory").
			WithMetadata(map[string]any{"path": s.path})
	}

	tmp, err := os.CreateTemp(dir, ".domainlists-*.json")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write domain lists").
			WithMetadata(map[string]any{"path": s.path})
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write domain lists").
			WithMetadata(map[string]any{"path": s.path})
	}
	if err := tmp.Close(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write domain lists").
			WithMetadata(map[string]any{"path": s.path})
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to replace domain lists").
			WithMetadata(map[string]any{"path": s.path})
	}
	return nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || slices.Contains(out, d) {
			continue
		}
		out = append(out, d)
	}
	return out
}
