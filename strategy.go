package auth

import (
	"context"
	"sort"
)

// Strategy names, also used as the default source label.
const (
	StrategyAccessToken    = "access_token"
	StrategyAutologinLink  = "autologin_link"
	StrategyAutologinToken = "autologin_token"
	StrategySSO            = "sso"
	StrategyPassword       = "password"
)

// Strategy priorities, highest evaluated first.
const (
	PriorityAccessToken    = 500
	PriorityAutologinLink  = 400
	PriorityAutologinToken = 300
	PrioritySSO            = 200
	PriorityPassword       = 100
)

// Strategy verifies one credential shape.
type Strategy interface {
	Name() string
	Priority() int
	// Accepts reports whether creds carry the shape this strategy handles.
	Accepts(creds Credentials) bool
	Authenticate(ctx context.Context, creds Credentials) (*Identity, error)
}

// Chain evaluates strategies by descending priority. The first strategy
// that accepts the credentials decides the outcome.
type Chain struct {
	strategies []Strategy
	events     publisher
	logger     Logger
}

// NewChain sorts strategies once. Equal priorities keep registration order.
func NewChain(strategies ...Strategy) *Chain {
	_, logger := ResolveLogger("auth.chain", nil, nil)

	sorted := make([]Strategy, 0, len(strategies))
	for _, s := range strategies {
		if s != nil {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})

	return &Chain{
		strategies: sorted,
		events:     publisher{sink: noopEventSink{}, clock: systemClock{}, logger: logger},
		logger:     logger,
	}
}

func (c *Chain) WithEventSink(sink EventSink) *Chain {
	c.events.sink = normalizeEventSink(sink)
	return c
}

func (c *Chain) WithClock(clock Clock) *Chain {
	c.events.clock = normalizeClock(clock)
	return c
}

func (c *Chain) WithLogger(logger Logger) *Chain {
	if logger != nil {
		c.logger = logger
		c.events.logger = logger
	}
	return c
}

// Strategies returns the evaluation order.
func (c *Chain) Strategies() []Strategy {
	out := make([]Strategy, len(c.strategies))
	copy(out, c.strategies)
	return out
}

// Authenticate resolves creds to an identity.
func (c *Chain) Authenticate(ctx context.Context, creds Credentials) (*Identity, Strategy, error) {
	for _, strategy := range c.strategies {
		if !strategy.Accepts(creds) {
			continue
		}

		source := sourceLabel(creds, strategy)
		identity, err := strategy.Authenticate(ctx, creds)
		if err != nil {
			c.logger.Debug("authentication failed", "strategy", strategy.Name(), "error", err)
			c.events.publish(ctx, EventSignInFailed, identity, source, map[string]any{
				"strategy": strategy.Name(),
				"kind":     string(ErrorKind(err)),
				"ip":       creds.IP,
			})
			return nil, strategy, err
		}

		c.events.publish(ctx, EventSignedIn, identity, source, map[string]any{
			"strategy": strategy.Name(),
			"ip":       creds.IP,
		})
		return identity, strategy, nil
	}

	c.events.publish(ctx, EventSignInFailed, nil, creds.Source, map[string]any{
		"kind": string(KindNoStrategy),
		"ip":   creds.IP,
	})
	return nil, nil, ErrNoMatchingStrategy
}

func sourceLabel(creds Credentials, strategy Strategy) string {
	if creds.Source != "" {
		return creds.Source
	}
	return strategy.Name()
}

// activeIdentity loads an identity that may authenticate. Missing and
// inactive identities are reported with notFound.
func activeIdentity(ctx context.Context, repos RepositoryManager, id string, notFoundErr error) (*Identity, error) {
	identityID, err := parseUUID(id)
	if err != nil {
		return nil, notFoundErr
	}

	identity, err := repos.Identities().FindByIDTx(ctx, repos.DB(), identityID)
	if err != nil {
		if isNotFound(err) {
			return nil, notFoundErr
		}
		return nil, internalError(err, "failed to load identity")
	}
	if !identity.Active {
		return nil, notFoundErr
	}
	return identity, nil
}
