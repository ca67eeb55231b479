package activitymap_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-chain"
	"github.com/goliatone/go-auth-chain/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := auth.Event{
		Name:       auth.EventSignedIn,
		IdentityID: "identity-100",
		Source:     "web",
		Roles:      []string{"admin"},
		Metadata: map[string]any{
			"strategy": "password",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "identity-100" {
		t.Fatalf("expected actor_id identity-100, got %q", out.ActorID)
	}
	if out.Verb != string(auth.EventSignedIn) {
		t.Fatalf("expected verb %q, got %q", auth.EventSignedIn, out.Verb)
	}
	if out.ObjectType != "identity" {
		t.Fatalf("expected object_type identity, got %q", out.ObjectType)
	}
	if out.ObjectID != "identity-100" {
		t.Fatalf("expected object_id identity-100, got %q", out.ObjectID)
	}
	if out.Channel != "auth" {
		t.Fatalf("expected channel auth, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}

	if out.Metadata["strategy"] != "password" {
		t.Fatalf("expected metadata strategy password, got %#v", out.Metadata["strategy"])
	}
	if out.Metadata[activitymap.MetadataKeySource] != "web" {
		t.Fatalf("expected metadata source web, got %#v", out.Metadata[activitymap.MetadataKeySource])
	}
	roles, ok := out.Metadata[activitymap.MetadataKeyRoles].([]string)
	if !ok || len(roles) != 1 || roles[0] != "admin" {
		t.Fatalf("expected metadata roles [admin], got %#v", out.Metadata[activitymap.MetadataKeyRoles])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeMergeTargetsPlaceholder(t *testing.T) {
	t.Parallel()

	out := activitymap.Normalize(auth.Event{
		Name:       auth.EventIdentityMerged,
		IdentityID: "claimed-1",
		Metadata:   map[string]any{"unclaimed_id": "unclaimed-9"},
	})

	if out.ActorID != "claimed-1" {
		t.Fatalf("expected actor_id claimed-1, got %q", out.ActorID)
	}
	if out.ObjectID != "unclaimed-9" {
		t.Fatalf("expected object_id unclaimed-9, got %q", out.ObjectID)
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	event := auth.Event{
		Name:       auth.EventPasswordChanged,
		IdentityID: "identity-200",
		Source:     "api",
		Metadata: map[string]any{
			"request_id":                  "req-1",
			activitymap.MetadataKeySource: "existing",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel("security"),
		activitymap.WithDefaultObjectType("account"),
		activitymap.WithObjectIDResolver(func(e auth.Event) string {
			if v, ok := e.Metadata["request_id"].(string); ok {
				return v
			}
			return ""
		}),
	)

	if out.Channel != "security" {
		t.Fatalf("expected channel security, got %q", out.Channel)
	}
	if out.ObjectType != "account" {
		t.Fatalf("expected object_type account, got %q", out.ObjectType)
	}
	if out.ObjectID != "req-1" {
		t.Fatalf("expected object_id req-1, got %q", out.ObjectID)
	}
	if out.Metadata[activitymap.MetadataKeySource] != "existing" {
		t.Fatalf("expected existing source preserved, got %#v", out.Metadata[activitymap.MetadataKeySource])
	}
	if out.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be set when input is zero")
	}
}

func TestNormalizeActorFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  auth.Event
		opts   []activitymap.Option
		expect string
	}{
		{
			name:   "uses identity id when present",
			event:  auth.Event{IdentityID: "identity-1"},
			expect: "identity-1",
		},
		{
			name:   "uses default fallback when identity missing",
			event:  auth.Event{Name: auth.EventSignInFailed},
			expect: "anonymous",
		},
		{
			name:   "uses configured fallback when identity missing",
			event:  auth.Event{},
			opts:   []activitymap.Option{activitymap.WithActorFallback("job")},
			expect: "job",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event, tc.opts...)
			if out.ActorID != tc.expect {
				t.Fatalf("expected actor_id %q, got %q", tc.expect, out.ActorID)
			}
		})
	}
}

func TestSink(t *testing.T) {
	t.Parallel()

	var got []activitymap.Normalized
	sink := activitymap.Sink(func(_ context.Context, record activitymap.Normalized) error {
		got = append(got, record)
		return nil
	}, activitymap.WithDefaultChannel("audit"))

	if err := sink.Record(context.Background(), auth.Event{Name: auth.EventSignedOut, IdentityID: "identity-3"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one record, got %d", len(got))
	}
	if got[0].Channel != "audit" || got[0].Verb != string(auth.EventSignedOut) {
		t.Fatalf("unexpected record %+v", got[0])
	}

	if err := activitymap.Sink(nil).Record(context.Background(), auth.Event{}); err != nil {
		t.Fatalf("nil sink function should be a no-op, got %v", err)
	}
}
