package iamclient_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/goliatone/go-router"
	iamclient "github.com/juniyasyos/go-iam-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func passthrough(ctx router.Context) error {
	return ctx.Next()
}

func authedSession(t *testing.T, store iamclient.SessionStore, raw string) *iamclient.SessionRecord {
	t.Helper()

	sess := iamclient.NewSessionRecord("")
	sess.SetAuthenticatedID("web", "local-user-1")
	sess.SetSubject("web", "iam-user-1")
	sess.SetRoles("web", []string{"editor"})
	if raw != "" {
		sess.SetAccessToken("web", raw)
	}
	require.NoError(t, store.Save(context.Background(), sess))
	return sess
}

func TestRequestGuardRedirectsAnonymous(t *testing.T) {
	store := iamclient.NewMemorySessionStore()
	handler := iamclient.RequestGuard(iamclient.RequestGuardDeps{
		Config: testConfig(),
		Store:  store,
	}, "web")(passthrough)

	ctx := newFakeContext()
	ctx.originalURL = "/reports/42"

	require.NoError(t, handler(ctx))

	assert.False(t, ctx.nextCalled)
	assert.Equal(t, "/sso/login", ctx.redirectedTo)
	assert.Equal(t, http.StatusSeeOther, ctx.redirectStatus)

	// the destination is remembered in the (new) session
	require.NotEmpty(t, ctx.setCookies)
	saved, err := store.Load(context.Background(), ctx.setCookies[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "/reports/42", saved.PullIntendedURL())
}

func TestRequestGuardAnonymousJSONGets401(t *testing.T) {
	handler := iamclient.RequestGuard(iamclient.RequestGuardDeps{
		Config: testConfig(),
		Store:  iamclient.NewMemorySessionStore(),
	}, "web")(passthrough)

	ctx := newFakeContext()
	ctx.headers["Accept"] = "application/json"

	require.NoError(t, handler(ctx))

	assert.Equal(t, http.StatusUnauthorized, ctx.jsonStatus)
	assert.Empty(t, ctx.redirectedTo)
}

func TestRequestGuardAllowsAuthenticated(t *testing.T) {
	store := iamclient.NewMemorySessionStore()
	sess := authedSession(t, store, "")

	cfg := testConfig()
	cfg.VerifyEachRequest = false

	handler := iamclient.RequestGuard(iamclient.RequestGuardDeps{
		Config: cfg,
		Store:  store,
	}, "web")(passthrough)

	ctx := newFakeContext()
	ctx.cookies[cfg.SessionCookieName] = sess.ID

	require.NoError(t, handler(ctx))

	assert.True(t, ctx.nextCalled)
	assert.Equal(t, "local-user-1", ctx.locals["iam_user_id"])
	assert.Equal(t, "iam-user-1", ctx.locals["iam_subject"])
	assert.Equal(t, []string{"editor"}, ctx.locals["iam_roles"])
}

func TestRequestGuardReverifiesAndTearsDown(t *testing.T) {
	store := iamclient.NewMemorySessionStore()
	sess := authedSession(t, store, "stored-token")
	sess.Set("cart.items", 3)
	require.NoError(t, store.Save(context.Background(), sess))
	oldID := sess.ID

	verifier := new(MockVerifier)
	verifier.On("Verify", mock.Anything, "stored-token").
		Return(nil, iamclient.ErrTokenExpired)

	cfg := testConfig()
	handler := iamclient.RequestGuard(iamclient.RequestGuardDeps{
		Config:   cfg,
		Store:    store,
		Verifier: verifier,
	}, "web")(passthrough)

	ctx := newFakeContext()
	ctx.cookies[cfg.SessionCookieName] = sess.ID
	ctx.headers["Accept"] = "application/json"

	require.NoError(t, handler(ctx))

	assert.False(t, ctx.nextCalled)
	assert.Equal(t, http.StatusUnauthorized, ctx.jsonStatus)

	// torn down: login gone, IAM keys gone, unrelated state survives
	require.NotEmpty(t, ctx.setCookies)
	newID := ctx.setCookies[len(ctx.setCookies)-1].Value
	assert.NotEqual(t, oldID, newID)

	reloaded, err := store.Load(context.Background(), newID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.AuthenticatedID("web"))
	assert.Empty(t, reloaded.Subject("web"))
	v, _ := reloaded.Get("cart.items")
	assert.Equal(t, 3, v)
}

func TestRequestGuardReverifyWithoutStoredToken(t *testing.T) {
	store := iamclient.NewMemorySessionStore()
	sess := authedSession(t, store, "")
	oldID := sess.ID

	// nothing to re-verify against; the verifier must never be consulted
	verifier := new(MockVerifier)

	cfg := testConfig()
	handler := iamclient.RequestGuard(iamclient.RequestGuardDeps{
		Config:   cfg,
		Store:    store,
		Verifier: verifier,
	}, "web")(passthrough)

	ctx := newFakeContext()
	ctx.cookies[cfg.SessionCookieName] = sess.ID
	ctx.headers["Accept"] = "application/json"

	require.NoError(t, handler(ctx))

	assert.False(t, ctx.nextCalled)
	assert.Equal(t, http.StatusUnauthorized, ctx.jsonStatus)
	verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)

	// the stale login is gone
	require.NotEmpty(t, ctx.setCookies)
	newID := ctx.setCookies[len(ctx.setCookies)-1].Value
	assert.NotEqual(t, oldID, newID)

	reloaded, err := store.Load(context.Background(), newID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.AuthenticatedID("web"))
	assert.Empty(t, reloaded.Subject("web"))
}

func TestRequestGuardReverifySubjectMismatch(t *testing.T) {
	store := iamclient.NewMemorySessionStore()
	sess := authedSession(t, store, "stored-token")

	swapped := testTokenClaims()
	swapped.Subject = "someone-else"
	verifier := new(MockVerifier)
	verifier.On("Verify", mock.Anything, "stored-token").Return(swapped, nil)

	cfg := testConfig()
	handler := iamclient.RequestGuard(iamclient.RequestGuardDeps{
		Config:   cfg,
		Store:    store,
		Verifier: verifier,
	}, "web")(passthrough)

	ctx := newFakeContext()
	ctx.cookies[cfg.SessionCookieName] = sess.ID
	ctx.headers["Accept"] = "application/json"

	require.NoError(t, handler(ctx))
	assert.False(t, ctx.nextCalled)
	assert.Equal(t, http.StatusUnauthorized, ctx.jsonStatus)
}

func TestRequestGuardReverifyRefreshesSessionState(t *testing.T) {
	store := iamclient.NewMemorySessionStore()
	sess := authedSession(t, store, "stored-token")

	refreshed := testTokenClaims()
	refreshed.Roles = []iamclient.RoleClaim{{Name: "editor"}, {Name: "admin"}}
	verifier := new(MockVerifier)
	verifier.On("Verify", mock.Anything, "stored-token").Return(refreshed, nil)

	cfg := testConfig()
	handler := iamclient.RequestGuard(iamclient.RequestGuardDeps{
		Config:   cfg,
		Store:    store,
		Verifier: verifier,
	}, "web")(passthrough)

	ctx := newFakeContext()
	ctx.cookies[cfg.SessionCookieName] = sess.ID

	require.NoError(t, handler(ctx))
	assert.True(t, ctx.nextCalled)

	reloaded, err := store.Load(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"editor", "admin"}, reloaded.Roles("web"))
}

func TestSessionCookieSecureFollowsConfig(t *testing.T) {
	for _, secure := range []bool{true, false} {
		cfg := testConfig()
		cfg.SessionCookieSecure = secure

		handler := iamclient.RequestGuard(iamclient.RequestGuardDeps{
			Config: cfg,
			Store:  iamclient.NewMemorySessionStore(),
		}, "web")(passthrough)

		ctx := newFakeContext()
		ctx.originalURL = "/somewhere"
		require.NoError(t, handler(ctx))

		require.NotEmpty(t, ctx.setCookies)
		assert.Equal(t, secure, ctx.setCookies[0].Secure)
		assert.True(t, ctx.setCookies[0].HTTPOnly)
	}
}

func TestRequestGuardTeardownIsIdempotent(t *testing.T) {
	store := iamclient.NewMemorySessionStore()
	cfg := testConfig()

	handler := iamclient.RequestGuard(iamclient.RequestGuardDeps{
		Config: cfg,
		Store:  store,
	}, "web")(passthrough)

	// hitting the guard twice with no session must behave the same both times
	for i := 0; i < 2; i++ {
		ctx := newFakeContext()
		ctx.headers["Accept"] = "application/json"
		require.NoError(t, handler(ctx))
		assert.Equal(t, http.StatusUnauthorized, ctx.jsonStatus)
	}
}
