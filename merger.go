package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Merger turns unclaimed identities into real ones, either by promoting the
// placeholder itself or by folding it into an authenticated identity.
type Merger struct {
	repos  RepositoryManager
	hasher PasswordHasher
	clock  Clock
	events publisher
	logger Logger
}

// NewMerger returns a merger.
func NewMerger(repos RepositoryManager, hasher PasswordHasher) *Merger {
	_, logger := ResolveLogger("auth.merger", nil, nil)
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	return &Merger{
		repos:  repos,
		hasher: hasher,
		clock:  systemClock{},
		events: publisher{sink: noopEventSink{}, clock: systemClock{}, logger: logger},
		logger: logger,
	}
}

func (m *Merger) WithClock(c Clock) *Merger {
	m.clock = normalizeClock(c)
	m.events.clock = m.clock
	return m
}

func (m *Merger) WithEventSink(sink EventSink) *Merger {
	m.events.sink = normalizeEventSink(sink)
	return m
}

func (m *Merger) WithLogger(logger Logger) *Merger {
	if logger != nil {
		m.logger = logger
		m.events.logger = logger
	}
	return m
}

// Register promotes unclaimed into a claimed identity with password. The
// row already exists, so only the registered event fires.
func (m *Merger) Register(ctx context.Context, unclaimed *Identity, password string) (*Identity, error) {
	if unclaimed == nil {
		return nil, contractViolation("register requires an unclaimed identity")
	}
	if !unclaimed.Unclaimed() {
		return nil, ErrClaimedUser
	}

	hash, err := m.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	err = m.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := m.reload(ctx, tx, unclaimed)
		if err != nil {
			return err
		}
		if !current.Unclaimed() {
			return ErrClaimedUser
		}

		current.MarkClaimed()
		current.PasswordHash = hash
		current.Active = true
		if err := m.repos.Identities().SaveTx(ctx, tx, current, "password_hash", "metadata", "active"); err != nil {
			return err
		}
		*unclaimed = *current
		return nil
	})
	if err != nil {
		return nil, m.failure(err, "unclaimed identity registration failed")
	}

	m.events.publish(ctx, EventIdentityRegistered, unclaimed, "merger", map[string]any{
		"promoted": true,
	})
	return unclaimed, nil
}

// Merge folds unclaimed into claimed. Both must hold an access token paired
// with device. Claimed values win on metadata conflicts, notes are
// concatenated, and the unclaimed identity is left deactivated with only its
// marker and without tokens on device.
func (m *Merger) Merge(ctx context.Context, unclaimed, claimed *Identity, device *DeviceToken) (*Identity, error) {
	if unclaimed == nil || claimed == nil || device == nil {
		return nil, contractViolation("merge requires both identities and a device")
	}
	if !unclaimed.Unclaimed() {
		return nil, ErrClaimedUser
	}
	if claimed.Unclaimed() {
		return nil, ErrUnclaimedUser
	}

	err := m.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		source, err := m.reload(ctx, tx, unclaimed)
		if err != nil {
			return err
		}
		target, err := m.reload(ctx, tx, claimed)
		if err != nil {
			return err
		}
		if !source.Unclaimed() {
			return ErrClaimedUser
		}
		if target.Unclaimed() {
			return ErrUnclaimedUser
		}

		tokens, err := m.repos.AccessTokens().ListByDeviceTx(ctx, tx, device.ID)
		if err != nil {
			return err
		}
		if !pairedThrough(tokens, source, target) {
			return ErrAccessTokenNotFound
		}

		target.Metadata = MergeMetadata(target.Metadata, source.Metadata)
		target.Notes = MergeNotes(target.Notes, source.Notes)
		if err := m.repos.Identities().SaveTx(ctx, tx, target, "metadata", "notes"); err != nil {
			return err
		}

		source.Metadata = neutralizedMetadata(source.Metadata)
		source.Notes = ""
		source.Active = false
		if err := m.repos.Identities().SaveTx(ctx, tx, source, "metadata", "notes", "active"); err != nil {
			return err
		}

		sourceID := source.ID
		if _, err := m.repos.AccessTokens().DeleteByDeviceTx(ctx, tx, device.ID, &sourceID); err != nil {
			return err
		}

		*unclaimed = *source
		*claimed = *target
		return nil
	})
	if err != nil {
		return nil, m.failure(err, "identity merge failed")
	}

	m.events.publish(ctx, EventIdentityMerged, claimed, "merger", map[string]any{
		"unclaimed_id": unclaimed.ID.String(),
		"device_id":    device.DeviceID,
	})
	return claimed, nil
}

func (m *Merger) reload(ctx context.Context, tx bun.IDB, identity *Identity) (*Identity, error) {
	current, err := m.repos.Identities().FindByIDTx(ctx, tx, identity.ID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	return current, nil
}

func (m *Merger) failure(err error, message string) error {
	if IsExpected(err) {
		return err
	}
	m.logger.Error(message, "error", err)
	return internalError(err, message)
}

func pairedThrough(tokens []*AccessToken, unclaimed, claimed *Identity) bool {
	var hasUnclaimed, hasClaimed bool
	for _, t := range tokens {
		switch t.IdentityID {
		case unclaimed.ID:
			hasUnclaimed = true
		case claimed.ID:
			hasClaimed = true
		}
	}
	return hasUnclaimed && hasClaimed
}

// contractViolation reports a programming error such as nil arguments.
func contractViolation(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithTextCode(TextCodeInternal)
}
