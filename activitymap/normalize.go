package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/goliatone/go-auth-chain"
)

const (
	// MetadataKeySource stores the credential source of the event.
	MetadataKeySource = "source"
	// MetadataKeyRoles stores the roles resolved for the identity.
	MetadataKeyRoles = "roles"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "identity"
	defaultActorID    = "anonymous"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(auth.Event) string
}

// Normalize converts an auth.Event into a generic normalized shape.
func Normalize(event auth.Event, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.IdentityID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.Name),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// Sink adapts fn into an auth.EventSink that receives normalized records.
func Sink(fn func(ctx context.Context, record Normalized) error, opts ...Option) auth.EventSink {
	return auth.EventSinkFunc(func(ctx context.Context, event auth.Event) error {
		if fn == nil {
			return nil
		}
		return fn(ctx, Normalize(event, opts...))
	})
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from the event.
func WithObjectIDResolver(resolver func(auth.Event) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used for events without an identity,
// such as sign in attempts that matched no strategy.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func resolveObjectID(event auth.Event, resolver func(auth.Event) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	// a merge acts on the placeholder identity
	if event.Name == auth.EventIdentityMerged {
		if id, ok := event.Metadata["unclaimed_id"].(string); ok && id != "" {
			return id
		}
	}
	return strings.TrimSpace(event.IdentityID)
}

func normalizeMetadata(event auth.Event) map[string]any {
	metadata := cloneMap(event.Metadata)

	if source := strings.TrimSpace(event.Source); source != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeySource]; !exists {
			metadata[MetadataKeySource] = source
		}
	}

	if len(event.Roles) > 0 {
		if metadata == nil {
			metadata = map[string]any{}
		}
		roles := make([]string, len(event.Roles))
		copy(roles, event.Roles)
		metadata[MetadataKeyRoles] = roles
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
