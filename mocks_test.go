package iamclient_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
	iamclient "github.com/juniyasyos/go-iam-client"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const testSecret = "test-signing-secret"

// MockVerifier implements iamclient.TokenVerifier
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, raw string) (*iamclient.TokenClaims, error) {
	args := m.Called(ctx, raw)
	claims, _ := args.Get(0).(*iamclient.TokenClaims)
	return claims, args.Error(1)
}

type capturingSink struct {
	events []iamclient.Event
}

func (c *capturingSink) Record(_ context.Context, evt iamclient.Event) error {
	c.events = append(c.events, evt)
	return nil
}

func testConfig() iamclient.Config {
	cfg := iamclient.DefaultConfig()
	cfg.AppKey = "test-app"
	cfg.JWTSecret = testSecret
	cfg.Issuer = "http://iam.test"
	return cfg
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()

	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = time.Now().Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func accessClaims(overrides jwt.MapClaims) jwt.MapClaims {
	claims := jwt.MapClaims{
		"sub":     "iam-user-1",
		"type":    "access",
		"app_key": "test-app",
		"iss":     "http://iam.test",
		"name":    "Test User",
		"email":   "test@example.com",
		"roles":   []any{"editor"},
	}
	for k, v := range overrides {
		claims[k] = v
	}
	return claims
}

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	// a single connection keeps the in-memory database alive and isolated
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	db.RegisterModel((*iamclient.UserRole)(nil))
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE users (
			id TEXT NOT NULL PRIMARY KEY,
			iam_id TEXT UNIQUE,
			name TEXT,
			email TEXT UNIQUE,
			phone_number TEXT,
			active BOOLEAN DEFAULT TRUE,
			metadata TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP,
			deleted_at TIMESTAMP
		);`,
		`CREATE TABLE roles (
			id TEXT NOT NULL PRIMARY KEY,
			name TEXT NOT NULL,
			guard_name TEXT NOT NULL DEFAULT 'web',
			created_at TIMESTAMP,
			updated_at TIMESTAMP,
			UNIQUE (name, guard_name)
		);`,
		`CREATE TABLE user_roles (
			user_id TEXT NOT NULL,
			role_id TEXT NOT NULL,
			PRIMARY KEY (user_id, role_id)
		);`,
		`CREATE TABLE sessions (
			id TEXT NOT NULL PRIMARY KEY,
			user_id TEXT,
			guard TEXT DEFAULT 'web',
			last_activity TIMESTAMP
		);`,
		`CREATE TABLE api_tokens (
			id TEXT NOT NULL PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT,
			token_hash TEXT NOT NULL,
			revoked_at TIMESTAMP,
			created_at TIMESTAMP
		);`,
		`CREATE TABLE iam_settings (
			id INTEGER PRIMARY KEY,
			sync_users BOOLEAN,
			sync_roles BOOLEAN,
			updated_at TIMESTAMP
		);`,
	}

	for _, stmt := range schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	return db
}

// routerCtx lets fakeContext embed the interface without the embedded
// field name colliding with the Context() method below.
type routerCtx = router.Context

// fakeContext implements the slice of router.Context the package touches.
// Unused methods panic through the embedded nil interface, which is what
// we want in a test.
type fakeContext struct {
	routerCtx

	ctx         context.Context
	method      string
	originalURL string
	headers     map[string]string
	cookies     map[string]string
	queries     map[string]string
	params      map[string]string
	body        []byte
	locals      map[any]any

	setCookies     []*router.Cookie
	statusCode     int
	redirectedTo   string
	redirectStatus int
	jsonStatus     int
	jsonBody       any
	renderedView   string
	renderedBind   any
	nextCalled     bool
}

func newFakeContext() *fakeContext {
	return &fakeContext{
		ctx:     context.Background(),
		method:  "GET",
		headers: map[string]string{},
		cookies: map[string]string{},
		queries: map[string]string{},
		params:  map[string]string{},
		locals:  map[any]any{},
	}
}

func (f *fakeContext) Next() error {
	f.nextCalled = true
	return nil
}

func (f *fakeContext) Context() context.Context {
	return f.ctx
}

func (f *fakeContext) Method() string {
	return f.method
}

func (f *fakeContext) Body() []byte {
	return f.body
}

func (f *fakeContext) OriginalURL() string {
	return f.originalURL
}

func (f *fakeContext) Header(key string) string {
	return f.headers[key]
}

func (f *fakeContext) Cookies(key string, defaultValue ...string) string {
	if v, ok := f.cookies[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeContext) Cookie(cookie *router.Cookie) {
	f.setCookies = append(f.setCookies, cookie)
	f.cookies[cookie.Name] = cookie.Value
}

func (f *fakeContext) Query(key string, defaultValue ...string) string {
	if v, ok := f.queries[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeContext) Bind(i any) error {
	return json.Unmarshal(f.body, i)
}

func (f *fakeContext) Param(key string, defaultValue ...string) string {
	if v, ok := f.params[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeContext) Status(code int) router.Context {
	f.statusCode = code
	return f
}

func (f *fakeContext) JSON(code int, val any) error {
	f.jsonStatus = code
	f.jsonBody = val
	return nil
}

func (f *fakeContext) Redirect(path string, status ...int) error {
	f.redirectedTo = path
	if len(status) > 0 {
		f.redirectStatus = status[0]
	}
	return nil
}

func (f *fakeContext) Render(name string, bind any, _ ...string) error {
	f.renderedView = name
	f.renderedBind = bind
	return nil
}

func (f *fakeContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		f.locals[key] = value[0]
		return value[0]
	}
	return f.locals[key]
}
