package services

import (
	"sort"
	"strings"

	"github.com/zatekoja/diagnosticpricesearch/internal/domain/entities"
)

// BranchCatalog is the static list of branches the site knows about
type BranchCatalog struct {
	byID    map[int]entities.Branch
	ordered []entities.Branch
}

// NewBranchCatalog creates a catalog ordered by branch id
func NewBranchCatalog(branches []entities.Branch) *BranchCatalog {
	c := &BranchCatalog{byID: make(map[int]entities.Branch, len(branches))}
	for _, b := range branches {
		if _, dup := c.byID[b.ID]; dup {
			continue
		}
		c.byID[b.ID] = b
		c.ordered = append(c.ordered, b)
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].ID < c.ordered[j].ID })
	return c
}

// Get looks up a branch by id
func (c *BranchCatalog) Get(id int) (entities.Branch, bool) {
	b, ok := c.byID[id]
	return b, ok
}

// All returns every branch in id order
func (c *BranchCatalog) All() []entities.Branch {
	out := make([]entities.Branch, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// BackendRouter maps a branch onto the backend that serves it. Adding a backend
// means one more ServiceBackend plus one more routing entry here.
type BackendRouter struct {
	tokenAuth map[string]struct{}
}

// NewBackendRouter creates a router; branches named in tokenAuthBranches use
// the token-auth API, everything else the legacy API.
func NewBackendRouter(tokenAuthBranches []string) *BackendRouter {
	r := &BackendRouter{tokenAuth: make(map[string]struct{}, len(tokenAuthBranches))}
	for _, name := range tokenAuthBranches {
		if key := routingKey(name); key != "" {
			r.tokenAuth[key] = struct{}{}
		}
	}
	return r
}

// KindFor is a pure function of the branch name
func (r *BackendRouter) KindFor(branch entities.Branch) entities.BackendKind {
	if _, ok := r.tokenAuth[routingKey(branch.Name)]; ok {
		return entities.BackendTokenAuth
	}
	return entities.BackendLegacy
}

func routingKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
