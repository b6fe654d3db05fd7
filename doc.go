// Package iamclient delegates authentication to a central IAM server via a
// bearer-token handoff and maintains a local session bound to the token's
// claims.
//
// Flow:
//   - The browser is redirected to the IAM server and comes back to the
//     callback endpoint carrying an access token.
//   - SessionAuthenticator verifies the token (TokenCodec), provisions a
//     local user just in time (UserProvisioner) and binds the session to the
//     token subject under a guard-scoped namespace.
//   - RequestGuard re-validates the stored token on every request and tears
//     the session down on any inconsistency (missing token, bad signature,
//     subject mismatch, missing roles).
//   - Logout can be triggered locally, by an IAM browser redirect
//     (front channel) or by a signed server-to-server call (back channel).
//
// Guards:
//   - A guard is an isolated authentication context ("web", "filament", ...)
//     with its own routes, redirect targets and session key namespace.
//     Everything is parameterized by guard name; ResolveGuard merges
//     per-guard overrides onto package defaults entry by entry.
//
// Event sinks:
//   - EventSink is a light-weight audit emitter used after successful logins
//     and logout flows. Sinks run best-effort (errors are logged) so you can
//     forward to a database or queue without blocking authentication.
package iamclient
