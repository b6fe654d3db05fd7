package iamclient

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

var _ command.Commander[BackchannelLogoutMessage] = (*BackchannelLogoutHandler)(nil)

// BackchannelUser is the user fragment of a back-channel logout payload.
type BackchannelUser struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// BackchannelLogoutMessage is the server-to-server logout notification the
// IAM host posts when a user signs out globally. The id is the IAM
// identifier, not a local primary key.
type BackchannelLogoutMessage struct {
	Event      string          `json:"event"`
	User       BackchannelUser `json:"user"`
	OnResponse func(resp *BackchannelLogoutResponse)
}

func (m BackchannelLogoutMessage) Type() string { return "iam.logout.backchannel" }

func (m BackchannelLogoutMessage) Validate() error {
	if err := validation.ValidateStruct(&m,
		validation.Field(&m.Event, validation.Required, validation.In("logout")),
	); err != nil {
		return err
	}
	return validation.ValidateStruct(&m.User,
		validation.Field(&m.User.ID, validation.Required),
	)
}

// BackchannelLogoutResponse reports what cleanup happened. Missing users
// still succeed so replays and unknown subjects stay cheap.
type BackchannelLogoutResponse struct {
	UserFound       bool
	SessionsDropped int64
	TokensRevoked   int64
}

type BackchannelLogoutHandler struct {
	config Config
	repo   RepositoryManager
	sink   EventSink
	logger Logger
}

func NewBackchannelLogoutHandler(config Config, repo RepositoryManager) *BackchannelLogoutHandler {
	return &BackchannelLogoutHandler{
		config: config,
		repo:   repo,
		sink:   noopEventSink{},
		logger: defLogger{},
	}
}

func (h *BackchannelLogoutHandler) WithLogger(logger Logger) *BackchannelLogoutHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *BackchannelLogoutHandler) WithEventSink(sink EventSink) *BackchannelLogoutHandler {
	h.sink = normalizeEventSink(sink)
	return h
}

func (h *BackchannelLogoutHandler) Execute(ctx context.Context, event BackchannelLogoutMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during backchannel logout",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *BackchannelLogoutHandler) execute(ctx context.Context, event BackchannelLogoutMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid backchannel logout payload")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp := &BackchannelLogoutResponse{}

	user, err := h.repo.Users().GetByField(ctx, h.config.IdentifierField, event.User.ID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// Logout for a user this app never provisioned; nothing to
			// clean up.
			h.logger.Info("backchannel logout for unknown identifier %q", event.User.ID)
			h.respond(event, resp)
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve user for backchannel logout")
	}

	resp.UserFound = true

	// Session drop and token revocation are independent; one failing must
	// not block the other.
	if dropped, err := h.repo.SessionRows().DeleteByUserID(ctx, user.ID); err != nil {
		h.logger.Warn("failed to drop sessions for user %s: %v", user.ID, err)
	} else {
		resp.SessionsDropped = dropped
	}

	if revoked, err := h.repo.APITokens().RevokeByUserID(ctx, user.ID); err != nil {
		h.logger.Warn("failed to revoke tokens for user %s: %v", user.ID, err)
	} else {
		resp.TokensRevoked = revoked
	}

	sink := normalizeEventSink(h.sink)
	if err := sink.Record(ctx, Event{
		EventType:  EventBackchannelLogout,
		UserID:     user.ID.String(),
		Subject:    event.User.ID,
		OccurredAt: time.Now(),
		Metadata: map[string]any{
			"sessions_dropped": resp.SessionsDropped,
			"tokens_revoked":   resp.TokensRevoked,
		},
	}); err != nil {
		h.logger.Warn("event sink record error: %v", err)
	}

	h.respond(event, resp)
	return nil
}

func (h *BackchannelLogoutHandler) respond(event BackchannelLogoutMessage, resp *BackchannelLogoutResponse) {
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
}
