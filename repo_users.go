package iamclient

import (
	"context"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the user store. Upsert-by-field is the JIT provisioning
// primitive: match by the configured identifier column, then create or
// update the remaining attributes.
type Users interface {
	repository.Repository[*User]

	GetByField(ctx context.Context, column, value string) (*User, error)
	GetByFieldTx(ctx context.Context, tx bun.IDB, column, value string) (*User, error)
	UpsertByField(ctx context.Context, column, value string, record *User) (*User, error)
	UpsertByFieldTx(ctx context.Context, tx bun.IDB, column, value string, record *User) (*User, error)
	ListAll(ctx context.Context) ([]*User, int, error)
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "iam_id"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) GetByField(ctx context.Context, column, value string) (*User, error) {
	return a.GetByFieldTx(ctx, a.db, column, value)
}

func (a *users) GetByFieldTx(ctx context.Context, tx bun.IDB, column, value string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().Model(record).
		Where(fmt.Sprintf("?TableAlias.%s = ?", safeColumn(column)), value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"column": column,
					"value":  value,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) UpsertByField(ctx context.Context, column, value string, record *User) (*User, error) {
	return a.UpsertByFieldTx(ctx, a.db, column, value, record)
}

// UpsertByFieldTx is idempotent: replaying the same claims for the same
// subject updates the existing row, never creates a duplicate.
func (a *users) UpsertByFieldTx(ctx context.Context, tx bun.IDB, column, value string, record *User) (*User, error) {
	existing, err := a.GetByFieldTx(ctx, tx, column, value)
	if err == nil {
		record.ID = existing.ID
		return a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(existing.ID.String()))
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	if record.ID == uuid.Nil {
		// Deterministic IDs from the identifier value keep replays and
		// multi-node callbacks convergent.
		if id, herr := hashid.NewUUID(value); herr == nil {
			record.ID = id
		} else {
			record.ID = uuid.New()
		}
	}

	return a.Repository.CreateTx(ctx, tx, record)
}

func (a *users) ListAll(ctx context.Context) ([]*User, int, error) {
	var records []*User
	err := a.db.NewSelect().Model(&records).
		Order("usr.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, 0, err
	}
	return records, len(records), nil
}

// safeColumn guards the interpolated column name; mapped columns are
// configuration, not user input, but identifiers cannot be bound params.
func safeColumn(column string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return -1
		}
	}, strings.ToLower(column))

	if cleaned == "" {
		return "iam_id"
	}
	return cleaned
}
