package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Role is the identity role
type Role string

const (
	// RoleUser is a regular account
	RoleUser Role = "user"
	// RoleAdmin manages other accounts
	RoleAdmin Role = "admin"
	// RoleOwner has every admin capability
	RoleOwner Role = "owner"
)

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleOwner:
		return true
	default:
		return false
	}
}

// IsPrivileged reports whether the role is subject to the stricter token rules.
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleOwner
}

// MetadataUnclaimedKey marks placeholder identities.
const MetadataUnclaimedKey = "unclaimed"

// MetadataEntry is a single metadata value flagged public or private.
type MetadataEntry struct {
	Value  any  `json:"value"`
	Public bool `json:"public,omitempty"`
}

// Metadata is the key/value bag owned by an identity.
type Metadata map[string]MetadataEntry

// Get returns the raw value stored under key.
func (m Metadata) Get(key string) (any, bool) {
	entry, ok := m[key]
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// Has reports whether key is present.
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Public returns only the entries flagged public.
func (m Metadata) Public() Metadata {
	out := Metadata{}
	for k, v := range m {
		if v.Public {
			out[k] = v
		}
	}
	return out
}

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Identity is the user record
type Identity struct {
	bun.BaseModel    `bun:"table:identities,alias:idn"`
	ID               uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id"`
	Email            string     `bun:"email,notnull" json:"email"`
	PasswordHash     string     `bun:"password_hash,nullzero" json:"-"`
	Role             Role       `bun:"role,notnull" json:"role"`
	Active           bool       `bun:"active,notnull" json:"active"`
	Locale           string     `bun:"locale" json:"locale,omitempty"`
	Notes            string     `bun:"notes" json:"notes,omitempty"`
	Metadata         Metadata   `bun:"metadata" json:"metadata,omitempty"`
	ConfirmedAt      *time.Time `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
	EmailValidatedAt *time.Time `bun:"email_validated_at,nullzero" json:"email_validated_at,omitempty"`
	CreatedAt        time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull" json:"updated_at"`
	DeletedAt        *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Unclaimed reports whether the identity is a placeholder.
func (i *Identity) Unclaimed() bool {
	if i == nil {
		return false
	}
	v, ok := i.Metadata.Get(MetadataUnclaimedKey)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// MarkUnclaimed sets the placeholder marker.
func (i *Identity) MarkUnclaimed() *Identity {
	return i.SetMetadata(MetadataUnclaimedKey, true, false)
}

// MarkClaimed removes the placeholder marker.
func (i *Identity) MarkClaimed() *Identity {
	delete(i.Metadata, MetadataUnclaimedKey)
	return i
}

// SetMetadata stores a value under key.
func (i *Identity) SetMetadata(key string, val any, public bool) *Identity {
	if i.Metadata == nil {
		i.Metadata = Metadata{}
	}
	i.Metadata[key] = MetadataEntry{Value: val, Public: public}
	return i
}

// Roles returns the resolved role names carried in sign-in events.
func (i *Identity) Roles() []string {
	if i == nil || i.Role == "" {
		return nil
	}
	return []string{string(i.Role)}
}

// NormalizeEmail is the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AccessToken is a bearer credential
type AccessToken struct {
	bun.BaseModel `bun:"table:access_tokens,alias:atk"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id"`
	Token         string     `bun:"token,notnull,unique" json:"token"`
	IdentityID    uuid.UUID  `bun:"identity_id,notnull,type:uuid" json:"identity_id"`
	Source        string     `bun:"source,notnull" json:"source"`
	Version       int        `bun:"version,notnull" json:"version"`
	ValidUntil    *time.Time `bun:"valid_until,nullzero" json:"valid_until,omitempty"`
	LastUsedAt    *time.Time `bun:"last_used_at,nullzero" json:"last_used_at,omitempty"`
	DeviceTokenID *uuid.UUID `bun:"device_token_id,nullzero,type:uuid" json:"device_token_id,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// Expired reports whether the token is past valid_until at now.
func (t *AccessToken) Expired(now time.Time) bool {
	if t == nil || t.ValidUntil == nil {
		return false
	}
	return !now.Before(*t.ValidUntil)
}

// PairedWith reports whether the token is linked to the device.
func (t *AccessToken) PairedWith(device *DeviceToken) bool {
	if t == nil || device == nil || t.DeviceTokenID == nil {
		return false
	}
	return *t.DeviceTokenID == device.ID
}

// DeviceToken represents one physical device or app install
type DeviceToken struct {
	bun.BaseModel `bun:"table:device_tokens,alias:dvt"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id"`
	DeviceID      string     `bun:"device_id,notnull" json:"device_id"`
	Token         string     `bun:"token,notnull,unique" json:"token"`
	LastUsedAt    *time.Time `bun:"last_used_at,nullzero" json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// AttemptStatus is the outcome recorded for a registration attempt.
type AttemptStatus string

const (
	AttemptOK                  AttemptStatus = "ok"
	AttemptInvalidEmail        AttemptStatus = "invalid_email"
	AttemptTakenEmail          AttemptStatus = "taken_email"
	AttemptRateLimitExceeded   AttemptStatus = "rate_limit_exceeded"
	AttemptDeviceTokenNotFound AttemptStatus = "device_token_not_found"
)

// RegistrationAttempt is an append-only audit row
type RegistrationAttempt struct {
	bun.BaseModel `bun:"table:registration_attempts,alias:rga"`
	ID            uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id"`
	Email         string        `bun:"email,notnull" json:"email"`
	IdentityID    *uuid.UUID    `bun:"identity_id,nullzero,type:uuid" json:"identity_id,omitempty"`
	Source        string        `bun:"source" json:"source,omitempty"`
	Status        AttemptStatus `bun:"status,notnull" json:"status"`
	IP            string        `bun:"ip" json:"ip,omitempty"`
	UserAgent     string        `bun:"user_agent" json:"user_agent,omitempty"`
	CreatedAt     time.Time     `bun:"created_at,notnull" json:"created_at"`
}

// AutologinToken is a single-use (or limited use) login credential
type AutologinToken struct {
	bun.BaseModel `bun:"table:autologin_tokens,alias:alt"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id"`
	Token         string     `bun:"token,notnull,unique" json:"token"`
	IdentityID    uuid.UUID  `bun:"identity_id,notnull,type:uuid" json:"identity_id"`
	Uses          int        `bun:"uses,notnull" json:"uses"`
	MaxUses       int        `bun:"max_uses,notnull" json:"max_uses"`
	ExpiresAt     *time.Time `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	LastUsedAt    *time.Time `bun:"last_used_at,nullzero" json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// Exhausted reports whether the usage counter reached its maximum.
func (t *AutologinToken) Exhausted() bool {
	return t.Uses >= t.MaxUses
}

// Expired reports whether the usage window elapsed at now.
func (t *AutologinToken) Expired(now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !now.Before(*t.ExpiresAt)
}

// ExternalAccount links an SSO provider account to a local identity
type ExternalAccount struct {
	bun.BaseModel `bun:"table:external_accounts,alias:exa"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id"`
	Provider      string    `bun:"provider,notnull,unique:provider_external_id" json:"provider"`
	ExternalID    string    `bun:"external_id,notnull,unique:provider_external_id" json:"external_id"`
	IdentityID    uuid.UUID `bun:"identity_id,notnull,type:uuid" json:"identity_id"`
	Email         string    `bun:"email" json:"email,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}

// Setting is an integer valued runtime setting shared by every process.
type Setting struct {
	bun.BaseModel `bun:"table:auth_settings,alias:ast"`
	Name          string    `bun:"name,pk" json:"name"`
	IntValue      int64     `bun:"int_value,notnull" json:"int_value"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// RateLimitCounter is the fixed window attempt counter of one limiter key.
type RateLimitCounter struct {
	bun.BaseModel `bun:"table:rate_limit_counters,alias:rlc"`
	Key           string    `bun:"key,pk" json:"key"`
	WindowStart   time.Time `bun:"window_start,notnull" json:"window_start"`
	Hits          int64     `bun:"hits,notnull" json:"hits"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" json:"updated_at"`
}
