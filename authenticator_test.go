package iamclient_test

import (
	"context"
	"testing"

	iamclient "github.com/juniyasyos/go-iam-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type authFixture struct {
	cfg      iamclient.Config
	verifier *MockVerifier
	repo     iamclient.RepositoryManager
	store    *iamclient.MemorySessionStore
	sink     *capturingSink
	auth     *iamclient.SessionAuthenticator
}

func newAuthFixture(t *testing.T, cfg iamclient.Config) *authFixture {
	t.Helper()

	repo := iamclient.NewRepositoryManager(setupTestDB(t))
	store := iamclient.NewMemorySessionStore()
	verifier := new(MockVerifier)
	sink := &capturingSink{}

	auth := iamclient.NewSessionAuthenticator(
		cfg,
		verifier,
		iamclient.NewUserProvisioner(cfg, repo),
		store,
	).WithRepositoryManager(repo).WithEventSink(sink)

	return &authFixture{
		cfg:      cfg,
		verifier: verifier,
		repo:     repo,
		store:    store,
		sink:     sink,
		auth:     auth,
	}
}

func TestLoginWithTokenSuccess(t *testing.T) {
	f := newAuthFixture(t, testConfig())
	ctx := context.Background()

	f.verifier.On("Verify", ctx, "raw-token").Return(testTokenClaims(), nil)

	sess := iamclient.NewSessionRecord("")
	result, err := f.auth.LoginWithToken(ctx, sess, "raw-token", "web")
	require.NoError(t, err)

	assert.Equal(t, result.User.ID.String(), sess.AuthenticatedID("web"))
	assert.Equal(t, "iam-user-1", sess.Subject("web"))
	assert.Equal(t, []string{"editor"}, sess.Roles("web"))
	assert.Equal(t, "raw-token", sess.AccessToken("web"))
	assert.Equal(t, "iam-user-1", sess.IdentifierValue("web"))

	// the login is persisted
	loaded, err := f.store.Load(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "iam-user-1", loaded.Subject("web"))

	// a session row exists for backchannel cleanup
	dropped, err := f.repo.SessionRows().DeleteByUserID(ctx, result.User.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dropped)

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, iamclient.EventAuthenticated, f.sink.events[0].EventType)
}

func TestLoginWithTokenRejectedLeavesSessionUntouched(t *testing.T) {
	f := newAuthFixture(t, testConfig())
	ctx := context.Background()

	f.verifier.On("Verify", ctx, "bad-token").
		Return(nil, iamclient.ErrTokenSignature)

	sess := iamclient.NewSessionRecord("")
	sess.Set("cart.items", 3)

	_, err := f.auth.LoginWithToken(ctx, sess, "bad-token", "web")
	require.ErrorIs(t, err, iamclient.ErrTokenSignature)

	assert.Empty(t, sess.AuthenticatedID("web"))
	v, _ := sess.Get("cart.items")
	assert.Equal(t, 3, v)

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, iamclient.EventLoginRejected, f.sink.events[0].EventType)
}

func TestLoginWithTokenRequireRoles(t *testing.T) {
	cfg := testConfig()
	cfg.RequireRoles = true
	f := newAuthFixture(t, cfg)
	ctx := context.Background()

	claims := testTokenClaims()
	claims.Roles = nil
	f.verifier.On("Verify", ctx, mock.Anything).Return(claims, nil)

	sess := iamclient.NewSessionRecord("")
	_, err := f.auth.LoginWithToken(ctx, sess, "raw-token", "web")
	require.ErrorIs(t, err, iamclient.ErrNoRoles)
	assert.Empty(t, sess.AuthenticatedID("web"))
}

func TestLoginWithTokenRequiredRoleSet(t *testing.T) {
	cfg := testConfig()
	cfg.RequiredRoles = []string{"admin"}
	f := newAuthFixture(t, cfg)
	ctx := context.Background()

	f.verifier.On("Verify", ctx, mock.Anything).Return(testTokenClaims(), nil)

	sess := iamclient.NewSessionRecord("")
	_, err := f.auth.LoginWithToken(ctx, sess, "raw-token", "web")
	require.ErrorIs(t, err, iamclient.ErrInsufficientRoles)
}

func TestLoginWithTokenRequiredRoleSatisfied(t *testing.T) {
	cfg := testConfig()
	cfg.RequiredRoles = []string{"editor", "admin"}
	f := newAuthFixture(t, cfg)
	ctx := context.Background()

	f.verifier.On("Verify", ctx, mock.Anything).Return(testTokenClaims(), nil)

	sess := iamclient.NewSessionRecord("")
	_, err := f.auth.LoginWithToken(ctx, sess, "raw-token", "web")
	require.NoError(t, err)
}

func TestLoginWithTokenReplacesForeignIdentity(t *testing.T) {
	f := newAuthFixture(t, testConfig())
	ctx := context.Background()

	f.verifier.On("Verify", ctx, "token-1").Return(testTokenClaims(), nil)

	other := testTokenClaims()
	other.Subject = "iam-user-2"
	other.Payload["sub"] = "iam-user-2"
	other.Payload["email"] = "other@example.com"
	f.verifier.On("Verify", ctx, "token-2").Return(other, nil)

	sess := iamclient.NewSessionRecord("")
	sess.Set("cart.items", 3)

	_, err := f.auth.LoginWithToken(ctx, sess, "token-1", "web")
	require.NoError(t, err)
	firstID := sess.ID

	result, err := f.auth.LoginWithToken(ctx, sess, "token-2", "web")
	require.NoError(t, err)

	assert.NotEqual(t, firstID, sess.ID, "a different identity invalidates the session")
	assert.Equal(t, result.User.ID.String(), sess.AuthenticatedID("web"))
	assert.Equal(t, "iam-user-2", sess.Subject("web"))
	_, ok := sess.Get("cart.items")
	assert.False(t, ok, "invalidation flushes all values")
}

func TestLoginWithTokenSameIdentityKeepsSession(t *testing.T) {
	f := newAuthFixture(t, testConfig())
	ctx := context.Background()

	f.verifier.On("Verify", ctx, mock.Anything).Return(testTokenClaims(), nil)

	sess := iamclient.NewSessionRecord("")
	sess.Set("cart.items", 3)

	_, err := f.auth.LoginWithToken(ctx, sess, "token-1", "web")
	require.NoError(t, err)
	firstID := sess.ID

	_, err = f.auth.LoginWithToken(ctx, sess, "token-1", "web")
	require.NoError(t, err)

	assert.Equal(t, firstID, sess.ID)
	v, _ := sess.Get("cart.items")
	assert.Equal(t, 3, v)
}

func TestLoginWithTokenRotatesIDWhenNotPreserving(t *testing.T) {
	cfg := testConfig()
	cfg.PreserveSessionID = false
	f := newAuthFixture(t, cfg)
	ctx := context.Background()

	f.verifier.On("Verify", ctx, mock.Anything).Return(testTokenClaims(), nil)

	sess := iamclient.NewSessionRecord("before")
	_, err := f.auth.LoginWithToken(ctx, sess, "raw-token", "web")
	require.NoError(t, err)

	assert.NotEqual(t, "before", sess.ID)
}

func TestLoginWithTokenSkipsTokenStorageWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.StoreAccessTokenInSession = false
	f := newAuthFixture(t, cfg)
	ctx := context.Background()

	f.verifier.On("Verify", ctx, mock.Anything).Return(testTokenClaims(), nil)

	sess := iamclient.NewSessionRecord("")
	_, err := f.auth.LoginWithToken(ctx, sess, "raw-token", "web")
	require.NoError(t, err)

	assert.Empty(t, sess.AccessToken("web"))
}
