package iamclient

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// RepositoryManager bundles the persistence surface the package touches.
type RepositoryManager interface {
	Users() Users
	Roles() Roles
	SessionRows() SessionRows
	APITokens() APITokens
	Settings() Settings
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Validate() error
	MustValidate()
}

type mngr struct {
	db          *bun.DB
	users       Users
	roles       Roles
	sessionRows SessionRows
	apiTokens   APITokens
	settings    Settings
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	// bun resolves the users<->roles m2m through this model; queries on
	// either side fail without the registration.
	db.RegisterModel((*UserRole)(nil))

	return &mngr{
		db:          db,
		users:       NewUsersRepository(db),
		roles:       NewRolesRepository(db),
		sessionRows: NewSessionRowsRepository(db),
		apiTokens:   NewAPITokensRepository(db),
		settings:    NewSettingsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.roles == nil {
		return errors.New("repository roles should be initialized")
	}

	if m.sessionRows == nil {
		return errors.New("repository sessionRows should be initialized")
	}

	if m.apiTokens == nil {
		return errors.New("repository apiTokens should be initialized")
	}

	if m.settings == nil {
		return errors.New("repository settings should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Roles() Roles {
	return m.roles
}

func (m mngr) SessionRows() SessionRows {
	return m.sessionRows
}

func (m mngr) APITokens() APITokens {
	return m.apiTokens
}

func (m mngr) Settings() Settings {
	return m.settings
}
