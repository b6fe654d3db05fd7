package iamclient

import (
	"context"

	"github.com/nyaruka/phonenumbers"
)

// UserProvisioner materializes a local user row from verified token claims.
// Provisioning is just-in-time: the first valid login creates the user and
// every subsequent login refreshes the mapped attributes.
type UserProvisioner struct {
	config Config
	repo   RepositoryManager
	logger Logger
}

func NewUserProvisioner(config Config, repo RepositoryManager) *UserProvisioner {
	return &UserProvisioner{
		config: config,
		repo:   repo,
		logger: defLogger{},
	}
}

// WithLogger sets the provisioner logger, we expect it to
// return the provisioner to chain the call.
func (p *UserProvisioner) WithLogger(logger Logger) *UserProvisioner {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// Provision enforces the admission checks and upserts the local user.
// The identifier claim is the match key; replaying the same claims is a
// no-op update, never a duplicate row.
func (p *UserProvisioner) Provision(ctx context.Context, claims *TokenClaims) (*User, error) {
	if claims == nil || claims.Type != TokenTypeAccess {
		return nil, ErrWrongTokenType
	}

	// Strict equality: a token without an app_key claim is as foreign as
	// one minted for another application.
	if p.config.AppKey != "" && claims.AppKey != p.config.AppKey {
		p.logger.Warn("token issued for app %q, this app is %q", claims.AppKey, p.config.AppKey)
		return nil, ErrApplicationMismatch
	}

	identifier := claims.StringClaim(p.config.IdentifierClaim())
	if identifier == "" {
		return nil, ErrMissingIdentifier
	}

	record := &User{Active: true}
	p.applyField(record, p.config.IdentifierField, identifier)

	for column, claim := range p.config.UserFields {
		if column == p.config.IdentifierField {
			continue
		}
		if value := claims.StringClaim(claim); value != "" {
			p.applyField(record, column, value)
		}
	}

	user, err := p.repo.Users().UpsertByField(ctx, p.config.IdentifierField, identifier, record)
	if err != nil {
		return nil, err
	}

	if p.config.SyncRoles {
		// Set-replace: an empty role claim revokes every assignment in
		// the role guard.
		slugs := claims.RoleSlugs()
		if err := p.repo.Roles().SyncUserRoles(ctx, user.ID, slugs, p.config.RoleGuardName); err != nil {
			return nil, err
		}
	}

	return user, nil
}

func (p *UserProvisioner) applyField(record *User, column, value string) {
	switch column {
	case "iam_id":
		record.IamID = value
	case "name":
		record.Name = value
	case "email":
		record.Email = value
	case "phone", "phone_number":
		record.Phone = normalizePhone(value)
	default:
		record.AddMetadata(column, value)
	}
}

// normalizePhone formats international numbers as E.164. Numbers the parser
// rejects are stored as received.
func normalizePhone(raw string) string {
	num, err := phonenumbers.Parse(raw, "")
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}
