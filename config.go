package iamclient

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

var errSecretRequired = errors.New("a JWT secret or JWKS URL is required")

// GuardOverride carries per-guard configuration. Empty entries fall back to
// the package-wide defaults entry by entry, never wholesale.
type GuardOverride struct {
	Guard               string
	RedirectRoute       string
	LoginRouteName      string
	LogoutRedirectRoute string
}

// Config holds every knob of the IAM client. Read-only after process start;
// components receive it by value.
type Config struct {
	// Application identity at the IAM server. Tokens minted for another
	// application must never provision users here.
	AppKey string

	// Token verification
	JWTSecret    string
	JWTAlgorithm string // HS256 (default), HS384, HS512, or RS256 with JWKS
	JWTLeeway    time.Duration
	Issuer       string
	Audience     string
	JWKSetURLs   []string

	// IAM server endpoints
	BaseURL        string
	VerifyEndpoint string
	HTTPTimeout    time.Duration

	// Routes
	LoginRoute      string
	CallbackRoute   string
	DefaultRedirect string

	// Guards
	Guard               string
	LoginRouteName      string
	LogoutRedirectRoute string
	RoleGuardName       string
	Guards              map[string]GuardOverride

	// JIT provisioning
	IdentifierField string
	UserFields      map[string]string // local column -> claim name
	SyncRoles       bool
	RequireRoles    bool
	RequiredRoles   []string

	// Session policy
	ReplaceSessionOnCallback  bool
	PreserveSessionID         bool
	StoreAccessTokenInSession bool
	VerifyEachRequest         bool
	FrontChannelFullLogout    bool
	SessionCookieName         string
	SessionCookieSecure       bool

	// Back-channel
	BackchannelSecret          string
	BackchannelSignatureHeader string
	BackchannelMethod          string // "hmac" (default) or "jwt"

	// Sync endpoints (static fallback; runtime flag in iam_settings wins)
	SyncUsersEnabled bool
	SyncRolesEnabled bool
}

// DefaultConfig mirrors the package defaults an IAM deployment expects.
func DefaultConfig() Config {
	return Config{
		AppKey:       "client-app",
		JWTSecret:    "change-me",
		JWTAlgorithm: "HS256",
		JWTLeeway:    0,

		BaseURL:     "http://localhost:8000",
		HTTPTimeout: 3 * time.Second,

		LoginRoute:      "/sso/login",
		CallbackRoute:   "/sso/callback",
		DefaultRedirect: "/",

		Guard:               "web",
		LoginRouteName:      "login",
		LogoutRedirectRoute: "home",
		RoleGuardName:       "web",

		IdentifierField: "iam_id",
		UserFields: map[string]string{
			"iam_id": "sub",
			"name":   "name",
			"email":  "email",
		},
		SyncRoles: true,

		ReplaceSessionOnCallback:  true,
		PreserveSessionID:         true,
		StoreAccessTokenInSession: true,
		VerifyEachRequest:         true,
		SessionCookieName:         "app_session",
		SessionCookieSecure:       true,

		BackchannelSignatureHeader: "IAM-Signature",
		BackchannelMethod:          "hmac",

		SyncUsersEnabled: true,
		SyncRolesEnabled: true,
	}
}

// ConfigFromEnv loads the configuration with every field overridable via
// IAM_* environment variables.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	envString(&cfg.AppKey, "IAM_APP_KEY")
	envString(&cfg.JWTSecret, "IAM_JWT_SECRET")
	envString(&cfg.JWTAlgorithm, "IAM_JWT_ALGORITHM")
	envSeconds(&cfg.JWTLeeway, "IAM_JWT_LEEWAY")
	envString(&cfg.Issuer, "IAM_ISSUER")
	envString(&cfg.Audience, "IAM_AUDIENCE")
	envList(&cfg.JWKSetURLs, "IAM_JWKS_URLS")

	envString(&cfg.BaseURL, "IAM_BASE_URL")
	envString(&cfg.VerifyEndpoint, "IAM_VERIFY_ENDPOINT")
	envSeconds(&cfg.HTTPTimeout, "IAM_HTTP_TIMEOUT")

	envString(&cfg.LoginRoute, "IAM_LOGIN_ROUTE")
	envString(&cfg.CallbackRoute, "IAM_CALLBACK_ROUTE")
	envString(&cfg.DefaultRedirect, "IAM_DEFAULT_REDIRECT")

	envString(&cfg.Guard, "IAM_GUARD")
	envString(&cfg.LoginRouteName, "IAM_LOGIN_ROUTE_NAME")
	envString(&cfg.LogoutRedirectRoute, "IAM_LOGOUT_REDIRECT_ROUTE")
	envString(&cfg.RoleGuardName, "IAM_ROLE_GUARD_NAME")

	envString(&cfg.IdentifierField, "IAM_IDENTIFIER_FIELD")
	envBool(&cfg.SyncRoles, "IAM_SYNC_ROLES")
	envBool(&cfg.RequireRoles, "IAM_REQUIRE_ROLES")
	envList(&cfg.RequiredRoles, "IAM_REQUIRED_ROLES")

	envBool(&cfg.ReplaceSessionOnCallback, "IAM_REPLACE_SESSION_ON_CALLBACK")
	envBool(&cfg.PreserveSessionID, "IAM_PRESERVE_SESSION_ID")
	envBool(&cfg.StoreAccessTokenInSession, "IAM_STORE_TOKEN_IN_SESSION")
	envBool(&cfg.VerifyEachRequest, "IAM_VERIFY_EACH_REQUEST")
	envBool(&cfg.FrontChannelFullLogout, "IAM_FRONTCHANNEL_FULL_LOGOUT")
	envString(&cfg.SessionCookieName, "IAM_SESSION_COOKIE")
	envBool(&cfg.SessionCookieSecure, "IAM_SESSION_COOKIE_SECURE")

	envString(&cfg.BackchannelSecret, "IAM_BACKCHANNEL_SECRET")
	envString(&cfg.BackchannelSignatureHeader, "IAM_BACKCHANNEL_SIGNATURE_HEADER")
	envString(&cfg.BackchannelMethod, "IAM_BACKCHANNEL_METHOD")

	envBool(&cfg.SyncUsersEnabled, "IAM_SYNC_USERS")
	envBool(&cfg.SyncRolesEnabled, "IAM_SYNC_ROLES_ENDPOINT")

	return cfg
}

// Validate runs structural validation over the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.AppKey, validation.Required),
		validation.Field(&c.JWTSecret, validation.By(func(value any) error {
			s, _ := value.(string)
			if s == "" && len(c.JWKSetURLs) == 0 {
				return errSecretRequired
			}
			return nil
		})),
		validation.Field(&c.JWTAlgorithm, validation.Required, validation.In(
			"HS256", "HS384", "HS512", "RS256", "RS384", "RS512",
		)),
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Guard, validation.Required),
		validation.Field(&c.IdentifierField, validation.Required),
		validation.Field(&c.BackchannelMethod, validation.In("hmac", "jwt")),
	)
}

// CheckFieldMapping warns when the identifier field is not part of the field
// mapping. A mismatch is a startup-time warning, not a hard failure: the
// provisioner falls back to the "sub" claim.
func (c Config) CheckFieldMapping(logger Logger) {
	if logger == nil {
		logger = defLogger{}
	}
	if _, ok := c.UserFields[c.IdentifierField]; !ok {
		logger.Warn("identifier field %q missing from user field mapping, falling back to sub claim", c.IdentifierField)
	}
}

// VerifyURL resolves the live verification endpoint, falling back to
// {baseUrl}/api/verify when no explicit endpoint is configured.
func (c Config) VerifyURL() string {
	if c.VerifyEndpoint != "" {
		return c.VerifyEndpoint
	}
	return strings.TrimRight(c.BaseURL, "/") + "/api/verify"
}

// IdentifierClaim resolves the source claim of the identifier field via the
// field mapping, defaulting to "sub".
func (c Config) IdentifierClaim() string {
	if claim, ok := c.UserFields[c.IdentifierField]; ok && claim != "" {
		return claim
	}
	return "sub"
}

// ExpectedAudience is the audience tokens must carry: an explicit audience
// when configured, the application key otherwise.
func (c Config) ExpectedAudience() string {
	if c.Audience != "" {
		return c.Audience
	}
	return c.AppKey
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func envList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
