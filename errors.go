package auth

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes are the stable, language-neutral error kinds exposed to callers.
const (
	TextCodeIdentityNotFound          = "IDENTITY_NOT_FOUND"
	TextCodeInvalidCredential         = "INVALID_CREDENTIAL"
	TextCodeNotApproved               = "NOT_APPROVED"
	TextCodeAutologinDisabledForAdmin = "AUTOLOGIN_DISABLED_FOR_ADMIN"
	TextCodeInvalidToken              = "INVALID_TOKEN"
	TextCodeTokenNotFound             = "TOKEN_NOT_FOUND"
	TextCodeTokenExpired              = "TOKEN_EXPIRED"
	TextCodeTokenVersionStale         = "TOKEN_VERSION_STALE"
	TextCodeRateLimitExceeded         = "RATE_LIMIT_EXCEEDED"
	TextCodeDeviceTokenNotFound       = "DEVICE_TOKEN_NOT_FOUND"
	TextCodeAlreadyLinked             = "ALREADY_LINKED_TO_ANOTHER_IDENTITY"
	TextCodeClaimedUser               = "CLAIMED_USER"
	TextCodeUnclaimedUser             = "UNCLAIMED_USER"
	TextCodeAccessTokenNotFound       = "ACCESS_TOKEN_NOT_FOUND"
	TextCodeInvalidEmail              = "INVALID_EMAIL"
	TextCodeEmailTaken                = "EMAIL_TAKEN"
	TextCodeEmptyPassword             = "EMPTY_PASSWORD"
	TextCodeNoMatchingStrategy        = "NO_MATCHING_STRATEGY"
	TextCodeInternal                  = "INTERNAL"
)

// ErrIdentityNotFound is returned when a credential does not resolve to an
// active, claimed identity.
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidCredential is returned on password mismatch.
var ErrInvalidCredential = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredential).
	WithCode(goerrors.CodeUnauthorized)

// ErrNotApproved is returned for identities that exist but may not sign in,
// such as unclaimed placeholders.
var ErrNotApproved = goerrors.New("identity is not approved to authenticate", goerrors.CategoryAuthz).
	WithTextCode(TextCodeNotApproved).
	WithCode(goerrors.CodeForbidden)

// ErrAutologinDisabledForAdmin is returned when a privileged identity presents
// a token based credential without a fresh re-authentication.
var ErrAutologinDisabledForAdmin = goerrors.New("token login is disabled for administrators", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAutologinDisabledForAdmin).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidToken is returned when an access or one-time token is absent,
// expired, version stale or already consumed.
var ErrInvalidToken = goerrors.New("invalid token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenNotFound is returned by the ledger when no token matches.
var ErrTokenNotFound = goerrors.New("access token not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeTokenNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrTokenExpired is returned by the ledger for tokens past valid_until.
var ErrTokenExpired = goerrors.New("access token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenVersionStale is returned by the ledger for tokens issued under a
// version below the minimum accepted one.
var ErrTokenVersionStale = goerrors.New("access token version is no longer accepted", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenVersionStale).
	WithCode(goerrors.CodeUnauthorized)

// ErrRateLimitExceeded is returned when the caller IP is over threshold.
var ErrRateLimitExceeded = goerrors.New("too many attempts, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimitExceeded).
	WithCode(http.StatusTooManyRequests)

// ErrDeviceTokenNotFound is returned when a device token does not exist.
var ErrDeviceTokenNotFound = goerrors.New("device token not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeDeviceTokenNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrAlreadyLinkedToAnotherIdentity is returned when an external account is
// bound to a different local identity.
var ErrAlreadyLinkedToAnotherIdentity = goerrors.New("external account already linked to another identity", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyLinked).
	WithCode(goerrors.CodeConflict)

// ErrClaimedUser is returned when the identity passed as unclaimed is claimed.
var ErrClaimedUser = goerrors.New("identity is already claimed", goerrors.CategoryValidation).
	WithTextCode(TextCodeClaimedUser).
	WithCode(goerrors.CodeBadRequest)

// ErrUnclaimedUser is returned when the identity passed as claimed is unclaimed.
var ErrUnclaimedUser = goerrors.New("identity is unclaimed", goerrors.CategoryValidation).
	WithTextCode(TextCodeUnclaimedUser).
	WithCode(goerrors.CodeBadRequest)

// ErrAccessTokenNotFound is returned by the merger when no access token links
// both identities through the shared device.
var ErrAccessTokenNotFound = goerrors.New("no access token links the identities through the device", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccessTokenNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidEmail is returned for malformed registration emails.
var ErrInvalidEmail = goerrors.New("invalid email address", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidEmail).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailTaken is returned when the email belongs to a claimed identity.
var ErrEmailTaken = goerrors.New("email address already taken", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrNoMatchingStrategy is returned when no strategy recognizes the credentials.
var ErrNoMatchingStrategy = goerrors.New("no authentication strategy matches the credentials", goerrors.CategoryBadInput).
	WithTextCode(TextCodeNoMatchingStrategy).
	WithCode(goerrors.CodeBadRequest)

// Kind is the machine readable error kind the boundary maps to responses.
type Kind string

const (
	KindIdentityNotFound  Kind = "IdentityNotFound"
	KindInvalidCredential Kind = "InvalidCredential"
	KindNotApproved       Kind = "NotApproved"
	KindInvalidToken      Kind = "InvalidToken"
	KindRateLimitExceeded Kind = "RateLimitExceeded"
	KindDeviceNotFound    Kind = "DeviceTokenNotFound"
	KindAlreadyLinked     Kind = "AlreadyLinkedToAnotherIdentity"
	KindClaimedUser       Kind = "ClaimedUserException"
	KindUnclaimedUser     Kind = "UnclaimedUserException"
	KindAccessTokenAbsent Kind = "AccessTokenNotFoundException"
	KindInvalidEmail      Kind = "InvalidEmail"
	KindEmailTaken        Kind = "EmailTaken"
	KindNoStrategy        Kind = "NoMatchingStrategy"
	KindBadInput          Kind = "BadInput"
	KindInternal          Kind = "Internal"
)

var kindsByTextCode = map[string]Kind{
	TextCodeIdentityNotFound:          KindIdentityNotFound,
	TextCodeInvalidCredential:         KindInvalidCredential,
	TextCodeNotApproved:               KindNotApproved,
	TextCodeAutologinDisabledForAdmin: KindNotApproved,
	TextCodeInvalidToken:              KindInvalidToken,
	TextCodeTokenNotFound:             KindInvalidToken,
	TextCodeTokenExpired:              KindInvalidToken,
	TextCodeTokenVersionStale:         KindInvalidToken,
	TextCodeRateLimitExceeded:         KindRateLimitExceeded,
	TextCodeDeviceTokenNotFound:       KindDeviceNotFound,
	TextCodeAlreadyLinked:             KindAlreadyLinked,
	TextCodeClaimedUser:               KindClaimedUser,
	TextCodeUnclaimedUser:             KindUnclaimedUser,
	TextCodeAccessTokenNotFound:       KindAccessTokenAbsent,
	TextCodeInvalidEmail:              KindInvalidEmail,
	TextCodeEmailTaken:                KindEmailTaken,
	TextCodeEmptyPassword:             KindBadInput,
	TextCodeNoMatchingStrategy:        KindNoStrategy,
}

// ErrorKind maps err to its kind. Errors outside the taxonomy are Internal.
func ErrorKind(err error) Kind {
	if err == nil {
		return ""
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if kind, ok := kindsByTextCode[richErr.TextCode]; ok {
			return kind
		}
	}

	return KindInternal
}

// IsExpected reports whether err is a recoverable authentication outcome as
// opposed to an infrastructure failure.
func IsExpected(err error) bool {
	kind := ErrorKind(err)
	return kind != "" && kind != KindInternal
}

func internalError(err error, message string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithTextCode(TextCodeInternal)
}

// invalidToken keeps cause reachable while reporting the InvalidToken kind.
func invalidToken(cause error) error {
	if cause == nil {
		return ErrInvalidToken
	}
	return goerrors.Wrap(cause, ErrInvalidToken.Category, ErrInvalidToken.Message).
		WithTextCode(ErrInvalidToken.TextCode).
		WithCode(goerrors.CodeUnauthorized)
}
