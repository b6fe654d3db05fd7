package iamclient

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the locally provisioned user record. Created and updated by JIT
// provisioning, never deleted by this package.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	IamID         string         `bun:"iam_id,unique" json:"iam_id,omitempty"`
	Name          string         `bun:"name" json:"name,omitempty"`
	Email         string         `bun:"email,unique" json:"email,omitempty"`
	Phone         string         `bun:"phone_number" json:"phone_number,omitempty"`
	Active        bool           `bun:"active" json:"active,omitempty"`
	Metadata      map[string]any `bun:"metadata" json:"metadata,omitempty"`
	Roles         []*Role        `bun:"m2m:user_roles,join:User=Role" json:"roles,omitempty"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// AddMetadata appends information to the metadata attribute.
func (u *User) AddMetadata(key string, val any) *User {
	if u.Metadata == nil {
		u.Metadata = make(map[string]any)
	}
	u.Metadata[key] = val
	return u
}

// FieldValue resolves a mapped column on the user record. The identifier
// field must be one of these columns.
func (u *User) FieldValue(column string) string {
	if u == nil {
		return ""
	}
	switch column {
	case "id":
		if u.ID == uuid.Nil {
			return ""
		}
		return u.ID.String()
	case "iam_id":
		return u.IamID
	case "name":
		return u.Name
	case "email":
		return u.Email
	case "phone", "phone_number":
		return u.Phone
	default:
		if u.Metadata != nil {
			if v, ok := u.Metadata[column].(string); ok {
				return v
			}
		}
		return ""
	}
}

// Role is a lazily materialized role, scoped to a role guard name. The role
// guard name is distinct from the authentication guard to avoid
// cross-context role leakage.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rol"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull" json:"name,omitempty"`
	GuardName     string     `bun:"guard_name,notnull" json:"guard_name,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// UserRole is the many-to-many assignment between users and roles.
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:usrol"`
	UserID        uuid.UUID `bun:"user_id,pk,type:uuid" json:"user_id,omitempty"`
	User          *User     `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	RoleID        uuid.UUID `bun:"role_id,pk,type:uuid" json:"role_id,omitempty"`
	Role          *Role     `bun:"rel:belongs-to,join:role_id=id" json:"role,omitempty"`
}

// SessionRow is the server-side index of active sessions per user. Recorded
// on login so back-channel logout can remove a user's sessions without a
// browser involved.
type SessionRow struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`
	ID            string     `bun:"id,pk" json:"id,omitempty"`
	UserID        string     `bun:"user_id" json:"user_id,omitempty"`
	Guard         string     `bun:"guard" json:"guard,omitempty"`
	LastActivity  *time.Time `bun:"last_activity,nullzero,default:current_timestamp" json:"last_activity,omitempty"`
}

// APIToken is a personal access token attached to a local user; revoked
// best-effort during back-channel logout.
type APIToken struct {
	bun.BaseModel `bun:"table:api_tokens,alias:tok"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Name          string     `bun:"name" json:"name,omitempty"`
	TokenHash     string     `bun:"token_hash,notnull" json:"-"`
	RevokedAt     *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// IamSetting is the runtime toggle row for the sync endpoints. A database
// value wins over static configuration so administrators can flip the flag
// without a deploy.
type IamSetting struct {
	bun.BaseModel `bun:"table:iam_settings,alias:iams"`
	ID            int64      `bun:"id,pk,autoincrement" json:"id,omitempty"`
	SyncUsers     *bool      `bun:"sync_users" json:"sync_users,omitempty"`
	SyncRoles     *bool      `bun:"sync_roles" json:"sync_roles,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}
