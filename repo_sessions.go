package iamclient

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionRows records which server-side session belongs to which user so
// back-channel logout can find and drop them without a browser round trip.
type SessionRows interface {
	Record(ctx context.Context, sessionID string, userID uuid.UUID, guard string) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) (int64, error)
	Delete(ctx context.Context, sessionID string) error
}

type sessionRows struct {
	db *bun.DB
}

var _ SessionRows = (*sessionRows)(nil)

func NewSessionRowsRepository(db *bun.DB) SessionRows {
	return &sessionRows{db: db}
}

func (a *sessionRows) Record(ctx context.Context, sessionID string, userID uuid.UUID, guard string) error {
	now := time.Now()
	row := &SessionRow{
		ID:           sessionID,
		UserID:       userID.String(),
		Guard:        guard,
		LastActivity: &now,
	}
	_, err := a.db.NewInsert().Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("guard = EXCLUDED.guard").
		Set("last_activity = EXCLUDED.last_activity").
		Exec(ctx)
	return err
}

func (a *sessionRows) DeleteByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := a.db.NewDelete().Model((*SessionRow)(nil)).
		Where("user_id = ?", userID.String()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (a *sessionRows) Delete(ctx context.Context, sessionID string) error {
	_, err := a.db.NewDelete().Model((*SessionRow)(nil)).
		Where("id = ?", sessionID).
		Exec(ctx)
	return err
}

// APITokens revokes personal access tokens. Revocation is a timestamp, not
// a delete, so audits keep the token row.
type APITokens interface {
	RevokeByUserID(ctx context.Context, userID uuid.UUID) (int64, error)
}

type apiTokens struct {
	db *bun.DB
}

var _ APITokens = (*apiTokens)(nil)

func NewAPITokensRepository(db *bun.DB) APITokens {
	return &apiTokens{db: db}
}

func (a *apiTokens) RevokeByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := a.db.NewUpdate().Model((*APIToken)(nil)).
		Set("revoked_at = ?", time.Now()).
		Where("user_id = ?", userID).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// Settings reads the runtime sync toggles. Absent row or column falls back
// to the static configuration value.
type Settings interface {
	SyncUsersEnabled(ctx context.Context, fallback bool) bool
	SyncRolesEnabled(ctx context.Context, fallback bool) bool
}

type settings struct {
	db *bun.DB
}

var _ Settings = (*settings)(nil)

func NewSettingsRepository(db *bun.DB) Settings {
	return &settings{db: db}
}

func (a *settings) SyncUsersEnabled(ctx context.Context, fallback bool) bool {
	row, err := a.latest(ctx)
	if err != nil || row == nil || row.SyncUsers == nil {
		return fallback
	}
	return *row.SyncUsers
}

func (a *settings) SyncRolesEnabled(ctx context.Context, fallback bool) bool {
	row, err := a.latest(ctx)
	if err != nil || row == nil || row.SyncRoles == nil {
		return fallback
	}
	return *row.SyncRoles
}

func (a *settings) latest(ctx context.Context) (*IamSetting, error) {
	row := &IamSetting{}
	err := a.db.NewSelect().Model(row).
		Order("id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return row, nil
}
