package iamclient

import (
	"context"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Roles manages the external role store. Roles are created lazily and
// assignments are replaced as a set, never merged additively.
type Roles interface {
	repository.Repository[*Role]

	FindOrCreate(ctx context.Context, name, guardName string) (*Role, error)
	FindOrCreateTx(ctx context.Context, tx bun.IDB, name, guardName string) (*Role, error)

	// SyncUserRoles replaces the user's assignments within guardName with
	// exactly the given set. Removed roles are revoked; roles outside
	// guardName are untouched.
	SyncUserRoles(ctx context.Context, userID uuid.UUID, names []string, guardName string) error
	UserRoleNames(ctx context.Context, userID uuid.UUID, guardName string) ([]string, error)
	ListAll(ctx context.Context) ([]*Role, int, error)
}

type roles struct {
	repository.Repository[*Role]
	db *bun.DB
}

var _ Roles = (*roles)(nil)

func NewRolesRepository(db *bun.DB) Roles {
	repo := repository.NewRepository[*Role](db, repository.ModelHandlers[*Role]{
		NewRecord: func() *Role { return &Role{} },
		GetID: func(r *Role) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *Role, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "name"
		},
	})

	return &roles{
		Repository: repo,
		db:         db,
	}
}

func (a *roles) FindOrCreate(ctx context.Context, name, guardName string) (*Role, error) {
	return a.FindOrCreateTx(ctx, a.db, name, guardName)
}

func (a *roles) FindOrCreateTx(ctx context.Context, tx bun.IDB, name, guardName string) (*Role, error) {
	record := &Role{}
	err := tx.NewSelect().Model(record).
		Where("?TableAlias.name = ?", name).
		Where("?TableAlias.guard_name = ?", guardName).
		Limit(1).
		Scan(ctx)

	if err == nil {
		return record, nil
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	record = &Role{
		ID:        uuid.New(),
		Name:      name,
		GuardName: guardName,
	}

	return a.Repository.CreateTx(ctx, tx, record)
}

func (a *roles) SyncUserRoles(ctx context.Context, userID uuid.UUID, names []string, guardName string) error {
	return a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		wanted := make(map[uuid.UUID]struct{}, len(names))
		for _, name := range names {
			role, err := a.FindOrCreateTx(ctx, tx, name, guardName)
			if err != nil {
				return err
			}
			wanted[role.ID] = struct{}{}
		}

		// Revoke every assignment within the guard that is not in the
		// incoming set. Set-replace, not additive merge.
		var current []UserRole
		err := tx.NewSelect().Model(&current).
			Join("JOIN roles AS rol ON rol.id = ?TableAlias.role_id").
			Where("?TableAlias.user_id = ?", userID).
			Where("rol.guard_name = ?", guardName).
			Scan(ctx)
		if err != nil && !repository.IsRecordNotFound(err) {
			return err
		}

		for _, assignment := range current {
			if _, keep := wanted[assignment.RoleID]; keep {
				delete(wanted, assignment.RoleID)
				continue
			}
			_, err := tx.NewDelete().Model((*UserRole)(nil)).
				Where("user_id = ?", userID).
				Where("role_id = ?", assignment.RoleID).
				Exec(ctx)
			if err != nil {
				return err
			}
		}

		for roleID := range wanted {
			assignment := &UserRole{UserID: userID, RoleID: roleID}
			if _, err := tx.NewInsert().Model(assignment).Exec(ctx); err != nil {
				return err
			}
		}

		return nil
	})
}

func (a *roles) ListAll(ctx context.Context) ([]*Role, int, error) {
	var records []*Role
	err := a.db.NewSelect().Model(&records).
		Order("rol.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, 0, err
	}
	return records, len(records), nil
}

func (a *roles) UserRoleNames(ctx context.Context, userID uuid.UUID, guardName string) ([]string, error) {
	var names []string
	err := a.db.NewSelect().Model((*Role)(nil)).
		Column("rol.name").
		Join("JOIN user_roles AS usrol ON usrol.role_id = rol.id").
		Where("usrol.user_id = ?", userID).
		Where("rol.guard_name = ?", guardName).
		Order("rol.name ASC").
		Scan(ctx, &names)
	if err != nil {
		return nil, err
	}
	return names, nil
}
