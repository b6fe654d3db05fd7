package iamclient

import (
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-router"
)

// RequestGuardDeps bundles the collaborators of the request guard.
// Verifier is optional; when present and VerifyEachRequest is on, every
// request re-checks the stored token against the issuer.
type RequestGuardDeps struct {
	Config   Config
	Store    SessionStore
	Verifier TokenVerifier
	Sink     EventSink
	Logger   Logger
}

func (d RequestGuardDeps) logger() Logger {
	if d.Logger == nil {
		return defLogger{}
	}
	return d.Logger
}

// RequestGuard protects routes behind an authenticated IAM session. A
// request without a login is redirected to the login route with its
// destination remembered; a session whose token no longer verifies is torn
// down before rejection so retries start clean.
func RequestGuard(deps RequestGuardDeps, guard string) router.MiddlewareFunc {
	guard = fallback(guard, fallback(deps.Config.Guard, DefaultGuard))
	logger := deps.logger()

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			sess, err := loadSession(ctx, deps.Config, deps.Store)
			if err != nil {
				logger.Error("session load failed: %v", err)
				return rejectRequest(ctx, deps, sess, guard)
			}

			if sess.AuthenticatedID(guard) == "" || sess.Subject(guard) == "" {
				// Never logged in on this guard. No teardown needed,
				// just remember where they were going.
				return rejectRequest(ctx, deps, sess, guard)
			}

			if deps.Config.VerifyEachRequest && deps.Verifier != nil {
				if err := reverifySession(ctx, deps, sess, guard); err != nil {
					logger.Info("live verification rejected session on guard %q: %v", guard, err)
					teardownSession(ctx, deps, sess, guard)
					return rejectRequest(ctx, deps, sess, guard)
				}
			}

			if deps.Config.RequireRoles && len(sess.Roles(guard)) == 0 {
				teardownSession(ctx, deps, sess, guard)
				return rejectRequest(ctx, deps, sess, guard)
			}

			ctx.Locals("iam_user_id", sess.AuthenticatedID(guard))
			ctx.Locals("iam_subject", sess.Subject(guard))
			ctx.Locals("iam_roles", sess.Roles(guard))
			ctx.Locals("iam_payload", sess.Payload(guard))

			return ctx.Next()
		}
	}
}

// reverifySession re-checks the stored access token. Missing token, claims
// without a subject, or a subject that no longer matches the session all
// fail; a refreshed payload is written back on success.
func reverifySession(ctx router.Context, deps RequestGuardDeps, sess *SessionRecord, guard string) error {
	raw := sess.AccessToken(guard)
	if raw == "" {
		return ErrTokenMalformed
	}

	claims, err := deps.Verifier.Verify(ctx.Context(), raw)
	if err != nil {
		return err
	}

	if claims.Subject == "" {
		return ErrMissingIdentifier
	}

	if claims.Subject != sess.Subject(guard) {
		return ErrApplicationMismatch
	}

	sess.SetPayload(guard, claims.Payload)
	sess.SetRoles(guard, claims.RoleSlugs())
	if err := deps.Store.Save(ctx.Context(), sess); err != nil {
		deps.logger().Warn("failed to persist refreshed session: %v", err)
	}
	return nil
}

// teardownSession removes the guard's login and IAM keys, rotates the
// session id and CSRF token, and keeps everything else. Safe to call on a
// session that is already torn down.
func teardownSession(ctx router.Context, deps RequestGuardDeps, sess *SessionRecord, guard string) {
	logger := deps.logger()

	sess.Logout(guard)
	sess.ClearIAM(guard)
	sess.RegenerateToken()

	if err := deps.Store.RegenerateID(ctx.Context(), sess); err != nil {
		logger.Warn("session id rotation failed: %v", err)
	}
	if err := deps.Store.Save(ctx.Context(), sess); err != nil {
		logger.Warn("session save failed during teardown: %v", err)
	}
	writeSessionCookie(ctx, deps.Config, sess)

	sink := normalizeEventSink(deps.Sink)
	if err := sink.Record(ctx.Context(), Event{
		EventType:  EventLogout,
		Guard:      guard,
		OccurredAt: time.Now(),
		Metadata:   map[string]any{"reason": "request guard teardown"},
	}); err != nil {
		logger.Warn("event sink record error: %v", err)
	}
}

func rejectRequest(ctx router.Context, deps RequestGuardDeps, sess *SessionRecord, guard string) error {
	if wantsJSON(ctx) {
		return ctx.JSON(http.StatusUnauthorized, map[string]string{
			"message": "unauthenticated",
		})
	}
	return redirectToLogin(ctx, deps, sess, guard)
}

func redirectToLogin(ctx router.Context, deps RequestGuardDeps, sess *SessionRecord, guard string) error {
	if sess != nil && ctx.Method() == http.MethodGet {
		sess.SetIntendedURL(ctx.OriginalURL())
		if err := deps.Store.Save(ctx.Context(), sess); err != nil {
			deps.logger().Warn("failed to remember intended url: %v", err)
		}
		writeSessionCookie(ctx, deps.Config, sess)
	}

	login := GuardPath(fallback(deps.Config.LoginRoute, "/sso/login"), guard)
	return ctx.Redirect(login, http.StatusSeeOther)
}

func wantsJSON(ctx router.Context) bool {
	return strings.Contains(ctx.Header("Accept"), "application/json")
}

// loadSession resolves the session record from the request cookie; a
// missing cookie yields a fresh record.
func loadSession(ctx router.Context, cfg Config, store SessionStore) (*SessionRecord, error) {
	id := ctx.Cookies(sessionCookieName(cfg))
	return store.Load(ctx.Context(), id)
}

func sessionCookieName(cfg Config) string {
	return fallback(cfg.SessionCookieName, "app_session")
}

func writeSessionCookie(ctx router.Context, cfg Config, sess *SessionRecord) {
	if sess == nil {
		return
	}
	ctx.Cookie(&router.Cookie{
		Name:     sessionCookieName(cfg),
		Value:    sess.ID,
		Expires:  time.Now().Add(defaultSessionTTL),
		HTTPOnly: true,
		Secure:   cfg.SessionCookieSecure,
		SameSite: "Lax",
	})
}
