package auth

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RegistrationRequest describes a new identity.
type RegistrationRequest struct {
	Email    string
	Password string
	// Unclaimed creates a placeholder identity.
	Unclaimed bool
	Role      Role
	Locale    string
	Notes     string
	Metadata  Metadata

	Source    string
	IP        string
	UserAgent string
	// DeviceToken, when set, must reference an existing device.
	DeviceToken string
}

// RegistrationResult is the outcome of a successful registration.
type RegistrationResult struct {
	Identity *Identity
	Device   *DeviceToken
	// Created is false when an existing unclaimed identity was promoted.
	Created  bool
	Promoted bool
}

// Registrar creates identities. Every call that reaches a decision writes
// exactly one RegistrationAttempt row.
type Registrar struct {
	repos            RepositoryManager
	hasher           PasswordHasher
	limiter          *RateLimiter
	devices          *DeviceRegistry
	allowPromotion   bool
	hashidIdentities bool
	clock            Clock
	events           publisher
	logger           Logger
}

// NewRegistrar returns a registrar. A nil limiter disables rate limiting.
func NewRegistrar(repos RepositoryManager, cfg Config, hasher PasswordHasher, limiter *RateLimiter) *Registrar {
	_, logger := ResolveLogger("auth.registrar", nil, nil)
	if hasher == nil {
		hasher = NewBcryptHasher(cfg.BcryptCost)
	}
	return &Registrar{
		repos:            repos,
		hasher:           hasher,
		limiter:          limiter,
		devices:          NewDeviceRegistry(repos),
		allowPromotion:   cfg.AllowUnclaimedPromotion,
		hashidIdentities: cfg.HashidIdentities,
		clock:            systemClock{},
		events:           publisher{sink: noopEventSink{}, clock: systemClock{}, logger: logger},
		logger:           logger,
	}
}

func (r *Registrar) WithClock(c Clock) *Registrar {
	r.clock = normalizeClock(c)
	r.events.clock = r.clock
	r.devices.WithClock(r.clock)
	return r
}

func (r *Registrar) WithEventSink(sink EventSink) *Registrar {
	r.events.sink = normalizeEventSink(sink)
	return r
}

func (r *Registrar) WithLogger(logger Logger) *Registrar {
	if logger != nil {
		r.logger = logger
		r.events.logger = logger
	}
	return r
}

func (r *Registrar) WithDeviceRegistry(devices *DeviceRegistry) *Registrar {
	if devices != nil {
		r.devices = devices
	}
	return r
}

// Register runs the registration flow: rate limit, email validation,
// device check, then create or promote.
func (r *Registrar) Register(ctx context.Context, req RegistrationRequest) (*RegistrationResult, error) {
	email := NormalizeEmail(req.Email)

	if err := r.limiter.Check(ctx, req.IP); err != nil {
		if ErrorKind(err) == KindRateLimitExceeded {
			return nil, r.reject(ctx, req, email, AttemptRateLimitExceeded, err)
		}
		return nil, err
	}

	if err := validateEmail(email); err != nil {
		return nil, r.reject(ctx, req, email, AttemptInvalidEmail, ErrInvalidEmail)
	}

	var device *DeviceToken
	if strings.TrimSpace(req.DeviceToken) != "" {
		found, err := r.devices.FindByToken(ctx, req.DeviceToken)
		if err != nil {
			if ErrorKind(err) == KindDeviceNotFound {
				return nil, r.reject(ctx, req, email, AttemptDeviceTokenNotFound, err)
			}
			return nil, err
		}
		device = found
	}

	var hash string
	if req.Password != "" {
		var err error
		if hash, err = r.hasher.Hash(req.Password); err != nil {
			return nil, err
		}
	}

	result := &RegistrationResult{Device: device}
	err := r.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := r.repos.Identities().FindByEmailTx(ctx, tx, email)
		if err != nil && !isNotFound(err) {
			return err
		}

		switch {
		case existing == nil:
			identity, err := r.create(ctx, tx, req, email, hash)
			if err != nil {
				return err
			}
			result.Identity = identity
			result.Created = true
		case existing.Unclaimed() && !req.Unclaimed && r.allowPromotion:
			if err := r.promote(ctx, tx, existing, req, hash); err != nil {
				return err
			}
			result.Identity = existing
			result.Promoted = true
		default:
			return ErrEmailTaken
		}

		return r.audit(ctx, tx, req, email, result.Identity, AttemptOK)
	})
	if err != nil {
		// a concurrent registration of the same email loses on the unique index
		if ErrorKind(err) == KindEmailTaken || isDuplicateKey(err) {
			return nil, r.reject(ctx, req, email, AttemptTakenEmail, ErrEmailTaken)
		}
		r.logger.Error("registration transaction error", "error", err)
		return nil, internalError(err, "identity registration failed")
	}

	source := registrationSource(req)
	if result.Created {
		r.events.publish(ctx, EventIdentityCreated, result.Identity, source, nil)
	}
	if !req.Unclaimed {
		r.events.publish(ctx, EventIdentityRegistered, result.Identity, source, map[string]any{
			"promoted": result.Promoted,
		})
	}

	return result, nil
}

func (r *Registrar) create(ctx context.Context, tx bun.IDB, req RegistrationRequest, email, hash string) (*Identity, error) {
	identity := &Identity{
		Email:        email,
		PasswordHash: hash,
		Role:         req.Role,
		Active:       true,
		Locale:       req.Locale,
		Notes:        req.Notes,
		Metadata:     req.Metadata.Clone(),
	}
	if identity.Role == "" || !identity.Role.IsValid() {
		identity.Role = RoleUser
	}
	if req.Unclaimed {
		identity.MarkUnclaimed()
	} else {
		identity.MarkClaimed()
	}

	if r.hashidIdentities {
		id, err := r.hashidFor(ctx, tx, email)
		if err != nil {
			return nil, err
		}
		identity.ID = id
	}

	return r.repos.Identities().CreateTx(ctx, tx, identity)
}

// hashidFor derives the identity id from email. A soft deleted identity
// keeps its primary key, so a re-registered email gets a random id instead.
func (r *Registrar) hashidFor(ctx context.Context, tx bun.IDB, email string) (uuid.UUID, error) {
	id, err := hashid.NewUUID(email)
	if err != nil {
		return uuid.Nil, nil
	}
	taken, err := r.repos.Identities().IDTakenTx(ctx, tx, id)
	if err != nil {
		return uuid.Nil, err
	}
	if taken {
		r.logger.Warn("hashid already used by a deleted identity, using random id", "email", email)
		return uuid.New(), nil
	}
	return id, nil
}

func (r *Registrar) promote(ctx context.Context, tx bun.IDB, identity *Identity, req RegistrationRequest, hash string) error {
	identity.MarkClaimed()
	identity.Active = true
	if hash != "" {
		identity.PasswordHash = hash
	}
	if req.Locale != "" {
		identity.Locale = req.Locale
	}
	identity.Metadata = MergeMetadata(identity.Metadata, req.Metadata)
	identity.Notes = MergeNotes(identity.Notes, req.Notes)

	return r.repos.Identities().SaveTx(ctx, tx, identity,
		"password_hash", "active", "locale", "metadata", "notes")
}

func (r *Registrar) reject(ctx context.Context, req RegistrationRequest, email string, status AttemptStatus, cause error) error {
	if err := r.audit(ctx, r.repos.DB(), req, email, nil, status); err != nil {
		r.logger.Error("registration audit error", "status", string(status), "error", err)
		return internalError(err, "failed to record registration attempt")
	}
	return cause
}

func (r *Registrar) audit(ctx context.Context, tx bun.IDB, req RegistrationRequest, email string, identity *Identity, status AttemptStatus) error {
	record := &RegistrationAttempt{
		Email:     email,
		Source:    registrationSource(req),
		Status:    status,
		IP:        strings.TrimSpace(req.IP),
		UserAgent: req.UserAgent,
		CreatedAt: r.clock.Now(),
	}
	if identity != nil {
		id := identity.ID
		record.IdentityID = &id
	}
	_, err := r.repos.RegistrationAttempts().CreateTx(ctx, tx, record)
	return err
}

// Attempts returns the audit rows recorded for email, oldest first.
func (r *Registrar) Attempts(ctx context.Context, email string) ([]*RegistrationAttempt, error) {
	records, err := r.repos.RegistrationAttempts().ListByEmailTx(ctx, r.repos.DB(), email)
	if err != nil {
		return nil, internalError(err, "failed to list registration attempts")
	}
	return records, nil
}

func registrationSource(req RegistrationRequest) string {
	if req.Source != "" {
		return req.Source
	}
	return "registration"
}

func validateEmail(email string) error {
	return validation.Validate(email,
		validation.Required,
		validation.Length(3, 254),
		is.EmailFormat,
	)
}
