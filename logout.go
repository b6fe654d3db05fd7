package iamclient

import (
	"context"
	"strings"
	"time"
)

// LogoutCoordinator implements the three logout flows: local logout from
// the application, front-channel logout driven by an IAM redirect through
// the browser, and back-channel logout delivered server to server.
type LogoutCoordinator struct {
	config Config
	store  SessionStore
	repo   RepositoryManager
	sink   EventSink
	logger Logger
}

func NewLogoutCoordinator(config Config, store SessionStore) *LogoutCoordinator {
	return &LogoutCoordinator{
		config: config,
		store:  store,
		sink:   noopEventSink{},
		logger: defLogger{},
	}
}

func (l *LogoutCoordinator) WithLogger(logger Logger) *LogoutCoordinator {
	if logger != nil {
		l.logger = logger
	}
	return l
}

func (l *LogoutCoordinator) WithEventSink(sink EventSink) *LogoutCoordinator {
	l.sink = normalizeEventSink(sink)
	return l
}

// WithRepositoryManager enables session row cleanup on logout.
func (l *LogoutCoordinator) WithRepositoryManager(repo RepositoryManager) *LogoutCoordinator {
	l.repo = repo
	return l
}

// Logout ends the guard's login in this application and returns the path
// to send the browser to. The IAM server session is untouched; single
// sign-out goes through the front or back channel.
func (l *LogoutCoordinator) Logout(ctx context.Context, sess *SessionRecord, guard string) (string, error) {
	guard = fallback(guard, fallback(l.config.Guard, DefaultGuard))
	userID := sess.AuthenticatedID(guard)
	previousID := sess.ID

	sess.Logout(guard)
	sess.ClearIAM(guard)
	sess.RegenerateToken()

	if err := l.store.Invalidate(ctx, sess); err != nil {
		return "", err
	}

	l.dropSessionRow(ctx, previousID)
	l.emit(ctx, EventLogout, guard, userID, nil)

	profile := ResolveGuard(l.config, guard)
	return fallback(profile.LogoutRedirectRoute, "/"), nil
}

// FrontChannelLogout handles the browser redirect the IAM server issues
// when the user signs out upstream. By default only the IAM keys are
// cleared so an application-local login survives; FrontChannelFullLogout
// makes it equivalent to a local logout.
func (l *LogoutCoordinator) FrontChannelLogout(ctx context.Context, sess *SessionRecord, guard, postLogoutRedirect string) (string, error) {
	guard = fallback(guard, fallback(l.config.Guard, DefaultGuard))
	userID := sess.AuthenticatedID(guard)

	if l.config.FrontChannelFullLogout {
		sess.Logout(guard)
	}
	sess.ClearIAM(guard)
	sess.RegenerateToken()

	if err := l.store.RegenerateID(ctx, sess); err != nil {
		return "", err
	}
	if err := l.store.Save(ctx, sess); err != nil {
		return "", err
	}

	l.emit(ctx, EventLogout, guard, userID, map[string]any{"channel": "front"})

	return l.resolveRedirect(guard, postLogoutRedirect), nil
}

// resolveRedirect accepts an upstream redirect target only when it points
// back at the configured IAM base url; everything else falls back to the
// guard's logout destination. Open redirects are not a feature.
func (l *LogoutCoordinator) resolveRedirect(guard, postLogoutRedirect string) string {
	profile := ResolveGuard(l.config, guard)
	def := fallback(profile.LogoutRedirectRoute, "/")

	if postLogoutRedirect == "" {
		return def
	}

	base := strings.TrimRight(l.config.BaseURL, "/")
	if base != "" && strings.HasPrefix(postLogoutRedirect, base) {
		// A bare prefix match would accept iam.test.evil.com when the
		// base is iam.test; the boundary after the base must be a path,
		// query or fragment.
		rest := postLogoutRedirect[len(base):]
		if rest == "" || rest[0] == '/' || rest[0] == '?' || rest[0] == '#' {
			return postLogoutRedirect
		}
	}

	l.logger.Warn("rejecting post logout redirect outside of %q", base)
	return def
}

func (l *LogoutCoordinator) dropSessionRow(ctx context.Context, sessionID string) {
	if l.repo == nil || sessionID == "" {
		return
	}
	if err := l.repo.SessionRows().Delete(ctx, sessionID); err != nil {
		l.logger.Warn("failed to drop session row %s: %v", sessionID, err)
	}
}

func (l *LogoutCoordinator) emit(ctx context.Context, eventType EventType, guard, userID string, metadata map[string]any) {
	sink := normalizeEventSink(l.sink)
	if metadata == nil {
		metadata = map[string]any{}
	}
	if err := sink.Record(ctx, Event{
		EventType:  eventType,
		Guard:      guard,
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}); err != nil {
		l.logger.Warn("event sink record error: %v", err)
	}
}
