package auth

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ParseIdentityID parses an identity id. Provider-style subjects such as
// "google|123" are rejected.
func ParseIdentityID(value string) (uuid.UUID, error) {
	return parseUUID(value)
}

// IsIdentityID reports whether ParseIdentityID will succeed.
func IsIdentityID(value string) bool {
	_, err := parseUUID(value)
	return err == nil
}

func parseUUID(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, goerrors.New("identity id is empty", goerrors.CategoryBadInput)
	}
	id, err := uuid.Parse(trimmed)
	if err != nil {
		return uuid.Nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "identity id is not a uuid")
	}
	if id == uuid.Nil {
		return uuid.Nil, goerrors.New("identity id is the nil uuid", goerrors.CategoryBadInput)
	}
	return id, nil
}
