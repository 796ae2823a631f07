package model

import (
	"time"
)

// State is the lifecycle position of an activation code. Exhausted and Expired
// are derived from the stored counters and timestamps, never persisted.
type State string

const (
	StateUnbound   State = "unbound"
	StateBound     State = "bound"
	StateExhausted State = "exhausted"
	StateExpired   State = "expired"
	StateRevoked   State = "revoked"
)

// ActivationCode gates access to a client application identified by AppID.
type ActivationCode struct {
	Code        string     `json:"code"`
	AppID       *string    `json:"app_id"` // Pointer to allow for NULL
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at"` // nil means no expiry
	MaxUses     *int       `json:"max_uses"`   // nil means unlimited
	CurrentUses int        `json:"current_uses"`
	IsRevoked   bool       `json:"is_revoked"`
}

// NewActivationCode returns an unbound, unused code record.
func NewActivationCode(code string, expiresAt *time.Time, maxUses *int) *ActivationCode {
	return &ActivationCode{
		Code:      code,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
		MaxUses:   maxUses,
	}
}

func (c *ActivationCode) IsBound() bool { return c.AppID != nil }

// BoundTo reports whether the code is bound to exactly appID.
func (c *ActivationCode) BoundTo(appID string) bool {
	return c.AppID != nil && *c.AppID == appID
}

func (c *ActivationCode) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

func (c *ActivationCode) IsExhausted() bool {
	return c.MaxUses != nil && c.CurrentUses >= *c.MaxUses
}

// State derives the lifecycle state at now. Revocation wins over every other
// condition, then expiry, then quota.
func (c *ActivationCode) State(now time.Time) State {
	switch {
	case c.IsRevoked:
		return StateRevoked
	case c.IsExpired(now):
		return StateExpired
	case c.IsExhausted():
		return StateExhausted
	case c.IsBound():
		return StateBound
	default:
		return StateUnbound
	}
}

// GenerateParams describes how a single code is produced and what limits it carries.
type GenerateParams struct {
	Length       int
	Prefix       string
	Suffix       string
	WithChecksum bool
	Alphabet     string
	ExpiresAt    *time.Time
	MaxUses      *int
}
