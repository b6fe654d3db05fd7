package iamclient

import (
	"context"
	"time"
)

// SessionAuthenticator turns a verified identity token into an
// authenticated server-side session: verify, provision, enforce role
// policy, then bind the user to the session under a guard.
type SessionAuthenticator struct {
	config      Config
	verifier    TokenVerifier
	provisioner *UserProvisioner
	store       SessionStore
	repo        RepositoryManager
	sink        EventSink
	logger      Logger
}

// LoginResult is what a successful login yields.
type LoginResult struct {
	User    *User
	Payload map[string]any
	Roles   []string
	Guard   string
}

func NewSessionAuthenticator(config Config, verifier TokenVerifier, provisioner *UserProvisioner, store SessionStore) *SessionAuthenticator {
	return &SessionAuthenticator{
		config:      config,
		verifier:    verifier,
		provisioner: provisioner,
		store:       store,
		sink:        noopEventSink{},
		logger:      defLogger{},
	}
}

func (s *SessionAuthenticator) WithLogger(logger Logger) *SessionAuthenticator {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithEventSink configures an EventSink for emitting lifecycle events.
func (s *SessionAuthenticator) WithEventSink(sink EventSink) *SessionAuthenticator {
	s.sink = normalizeEventSink(sink)
	return s
}

// WithRepositoryManager enables best-effort session bookkeeping so
// back-channel logout can find this user's sessions later.
func (s *SessionAuthenticator) WithRepositoryManager(repo RepositoryManager) *SessionAuthenticator {
	s.repo = repo
	return s
}

// LoginWithToken authenticates the session with a raw token. On any
// rejection the session is left untouched; partial logins do not exist.
func (s *SessionAuthenticator) LoginWithToken(ctx context.Context, sess *SessionRecord, raw, guard string) (*LoginResult, error) {
	guard = fallback(guard, fallback(s.config.Guard, DefaultGuard))

	claims, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		s.logger.Error("token verification failed for %s: %v", TokenPreview(raw), err)
		s.emitEvent(ctx, EventLoginRejected, guard, "", "", map[string]any{"error": err.Error()})
		return nil, err
	}

	user, err := s.provisioner.Provision(ctx, claims)
	if err != nil {
		s.logger.Error("provisioning rejected subject %q: %v", claims.Subject, err)
		s.emitEvent(ctx, EventLoginRejected, guard, "", claims.Subject, map[string]any{"error": err.Error()})
		return nil, err
	}

	roles := claims.RoleSlugs()
	if err := s.checkRolePolicy(roles); err != nil {
		s.emitEvent(ctx, EventLoginRejected, guard, user.ID.String(), claims.Subject, map[string]any{"error": err.Error()})
		return nil, err
	}

	identifier := user.FieldValue(s.config.IdentifierField)

	if s.config.ReplaceSessionOnCallback {
		if stored := sess.IdentifierValue(guard); stored != "" && stored != identifier {
			// A different IAM account is taking over this browser
			// session. Drop the previous login entirely.
			s.logger.Info("replacing session held by another identity on guard %q", guard)
			sess.Logout(guard)
			sess.ClearIAM(guard)
			if err := s.store.Invalidate(ctx, sess); err != nil {
				return nil, err
			}
		}
	}

	if !s.config.PreserveSessionID {
		// Rotating the id on privilege change closes session fixation.
		if err := s.store.RegenerateID(ctx, sess); err != nil {
			return nil, err
		}
	}

	sess.SetAuthenticatedID(guard, user.ID.String())
	sess.SetSubject(guard, claims.Subject)
	sess.SetPayload(guard, claims.Payload)
	sess.SetRoles(guard, roles)
	sess.SetIdentifierValue(guard, identifier)
	if s.config.StoreAccessTokenInSession {
		sess.SetAccessToken(guard, raw)
	}

	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}

	s.recordSessionRow(ctx, sess, user, guard)
	s.emitEvent(ctx, EventAuthenticated, guard, user.ID.String(), claims.Subject, map[string]any{
		"roles": roles,
	})

	return &LoginResult{
		User:    user,
		Payload: claims.Payload,
		Roles:   roles,
		Guard:   guard,
	}, nil
}

func (s *SessionAuthenticator) checkRolePolicy(roles []string) error {
	if s.config.RequireRoles && len(roles) == 0 {
		return ErrNoRoles
	}

	if len(s.config.RequiredRoles) == 0 {
		return nil
	}

	for _, required := range s.config.RequiredRoles {
		for _, have := range roles {
			if have == required {
				return nil
			}
		}
	}
	return ErrInsufficientRoles
}

// recordSessionRow is best-effort bookkeeping; a database hiccup here must
// not fail an otherwise valid login.
func (s *SessionAuthenticator) recordSessionRow(ctx context.Context, sess *SessionRecord, user *User, guard string) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SessionRows().Record(ctx, sess.ID, user.ID, guard); err != nil {
		s.logger.Warn("failed to record session row for user %s: %v", user.ID, err)
	}
}

func (s *SessionAuthenticator) emitEvent(ctx context.Context, eventType EventType, guard, userID, subject string, metadata map[string]any) {
	sink := normalizeEventSink(s.sink)
	event := Event{
		EventType:  eventType,
		Guard:      guard,
		UserID:     userID,
		Subject:    subject,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("event sink record error: %v", err)
	}
}
