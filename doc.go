// Package auth authenticates identities and manages the tokens they hold.
//
// Authentication chain:
//   - Chain tries its strategies from highest to lowest priority and lets the
//     first one that recognizes the credentials decide the outcome. Built in
//     strategies cover access tokens, signed autologin links, raw autologin
//     tokens, SSO assertions and email/password.
//   - Authenticator wires the chain with every service below and, when asked,
//     issues an access token paired with the caller's device.
//
// Tokens:
//   - TokenLedger issues opaque bearer tokens stamped with a version. Bumping
//     the minimum accepted version through StoredVersionPolicy invalidates
//     every older token across processes.
//   - DeviceRegistry tracks device tokens and the access tokens paired to
//     them.
//   - AutologinIssuer mints limited use login tokens. Consumption is a single
//     conditional update so concurrent callers cannot exceed the limit.
//
// Identities:
//   - Registrar creates identities, promotes unclaimed placeholders and
//     writes one RegistrationAttempt row for every decision it reaches.
//   - Merger folds an unclaimed identity into a claimed one that shares a
//     device with it.
//
// Events:
//   - Sign in, sign out, registration and merge notifications go to an
//     EventSink. Sinks run best-effort and never fail the operation.
package auth
