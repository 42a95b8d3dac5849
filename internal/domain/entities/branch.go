package entities

import "time"

// BackendKind identifies which upstream price-list API serves a branch
type BackendKind string

const (
	BackendLegacy    BackendKind = "legacy"
	BackendTokenAuth BackendKind = "token_auth"
)

// Branch represents a physical diagnostic centre location
type Branch struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
}

// AuthToken is a bearer token for the token-auth backend.
// ExpiresAt already has the refresh safety margin applied.
type AuthToken struct {
	Value     string
	ExpiresAt time.Time
}
