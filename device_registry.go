package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// DeviceRegistry correlates access tokens with physical devices.
type DeviceRegistry struct {
	repos  RepositoryManager
	clock  Clock
	logger Logger
}

// NewDeviceRegistry returns a registry backed by repos.
func NewDeviceRegistry(repos RepositoryManager) *DeviceRegistry {
	_, logger := ResolveLogger("auth.devices", nil, nil)
	return &DeviceRegistry{
		repos:  repos,
		clock:  systemClock{},
		logger: logger,
	}
}

func (r *DeviceRegistry) WithClock(c Clock) *DeviceRegistry {
	r.clock = normalizeClock(c)
	return r
}

func (r *DeviceRegistry) WithLogger(logger Logger) *DeviceRegistry {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Generate creates a fresh device token. Repeated calls with the same
// device id yield distinct tokens.
func (r *DeviceRegistry) Generate(ctx context.Context, deviceID string) (*DeviceToken, error) {
	value, err := randomToken(tokenBytes)
	if err != nil {
		return nil, err
	}

	record := &DeviceToken{
		DeviceID:  strings.TrimSpace(deviceID),
		Token:     value,
		CreatedAt: r.clock.Now(),
	}
	if _, err := r.repos.DeviceTokens().CreateTx(ctx, r.repos.DB(), record); err != nil {
		r.logger.Error("device token create error", "error", err)
		return nil, internalError(err, "failed to generate device token")
	}
	return record, nil
}

// FindByToken resolves a device token.
func (r *DeviceRegistry) FindByToken(ctx context.Context, token string) (*DeviceToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrDeviceTokenNotFound
	}

	record, err := r.repos.DeviceTokens().FindByTokenTx(ctx, r.repos.DB(), token)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrDeviceTokenNotFound
		}
		return nil, internalError(err, "failed to load device token")
	}
	return record, nil
}

// Touch records device activity.
func (r *DeviceRegistry) Touch(ctx context.Context, device *DeviceToken) error {
	if device == nil {
		return ErrDeviceTokenNotFound
	}
	now := r.clock.Now()
	if err := r.repos.DeviceTokens().TouchTx(ctx, r.repos.DB(), device.ID, now); err != nil {
		return internalError(err, "failed to update device token usage")
	}
	device.LastUsedAt = &now
	return nil
}

// AccessTokensOf lists the access tokens paired with device.
func (r *DeviceRegistry) AccessTokensOf(ctx context.Context, device *DeviceToken) ([]*AccessToken, error) {
	if device == nil {
		return nil, ErrDeviceTokenNotFound
	}
	records, err := r.repos.AccessTokens().ListByDeviceTx(ctx, r.repos.DB(), device.ID)
	if err != nil {
		return nil, internalError(err, "failed to list device access tokens")
	}
	return records, nil
}

// IdentitiesOf returns every identity paired with device, deduplicated.
func (r *DeviceRegistry) IdentitiesOf(ctx context.Context, device *DeviceToken) ([]*Identity, error) {
	tokens, err := r.AccessTokensOf(ctx, device)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{}, len(tokens))
	ids := make([]uuid.UUID, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t.IdentityID]; ok {
			continue
		}
		seen[t.IdentityID] = struct{}{}
		ids = append(ids, t.IdentityID)
	}

	identities, err := r.repos.Identities().FindManyTx(ctx, r.repos.DB(), ids)
	if err != nil {
		return nil, internalError(err, "failed to load device identities")
	}
	return identities, nil
}

// ClaimedIdentitiesOf returns the claimed identities paired with device,
// deduplicated. These are the users authorized on the device.
func (r *DeviceRegistry) ClaimedIdentitiesOf(ctx context.Context, device *DeviceToken) ([]*Identity, error) {
	identities, err := r.IdentitiesOf(ctx, device)
	if err != nil {
		return nil, err
	}

	out := make([]*Identity, 0, len(identities))
	for _, identity := range identities {
		if identity.Unclaimed() {
			continue
		}
		out = append(out, identity)
	}
	return out, nil
}

// Logout revokes every access token paired with device.
func (r *DeviceRegistry) Logout(ctx context.Context, device *DeviceToken) (int64, error) {
	if device == nil {
		return 0, ErrDeviceTokenNotFound
	}
	n, err := r.repos.AccessTokens().DeleteByDeviceTx(ctx, r.repos.DB(), device.ID, nil)
	if err != nil {
		return 0, internalError(err, "failed to revoke device access tokens")
	}
	return n, nil
}
