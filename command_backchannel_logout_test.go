package iamclient_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	iamclient "github.com/juniyasyos/go-iam-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func provisionTestUser(t *testing.T, repo iamclient.RepositoryManager, iamID string) *iamclient.User {
	t.Helper()

	user, err := repo.Users().UpsertByField(context.Background(), "iam_id", iamID, &iamclient.User{
		IamID:  iamID,
		Name:   "Test User",
		Email:  iamID + "@example.com",
		Active: true,
	})
	require.NoError(t, err)
	return user
}

func TestBackchannelLogoutMessageValidation(t *testing.T) {
	tests := []struct {
		name    string
		message iamclient.BackchannelLogoutMessage
		valid   bool
	}{
		{
			"valid logout",
			iamclient.BackchannelLogoutMessage{
				Event: "logout",
				User:  iamclient.BackchannelUser{ID: "iam-user-1"},
			},
			true,
		},
		{
			"wrong event",
			iamclient.BackchannelLogoutMessage{
				Event: "login",
				User:  iamclient.BackchannelUser{ID: "iam-user-1"},
			},
			false,
		},
		{
			"missing user id",
			iamclient.BackchannelLogoutMessage{Event: "logout"},
			false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.message.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestBackchannelLogoutUnknownUserSucceeds(t *testing.T) {
	db := setupTestDB(t)
	repo := iamclient.NewRepositoryManager(db)
	handler := iamclient.NewBackchannelLogoutHandler(testConfig(), repo)

	var resp *iamclient.BackchannelLogoutResponse
	err := handler.Execute(context.Background(), iamclient.BackchannelLogoutMessage{
		Event:      "logout",
		User:       iamclient.BackchannelUser{ID: "never-seen"},
		OnResponse: func(r *iamclient.BackchannelLogoutResponse) { resp = r },
	})

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.UserFound)
	assert.Zero(t, resp.SessionsDropped)
	assert.Zero(t, resp.TokensRevoked)
}

func TestBackchannelLogoutDropsSessionsAndTokens(t *testing.T) {
	db := setupTestDB(t)
	repo := iamclient.NewRepositoryManager(db)
	user := provisionTestUser(t, repo, "iam-user-1")

	ctx := context.Background()
	require.NoError(t, repo.SessionRows().Record(ctx, "sess-1", user.ID, "web"))
	require.NoError(t, repo.SessionRows().Record(ctx, "sess-2", user.ID, "web"))

	_, err := db.NewInsert().Model(&iamclient.APIToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		Name:      "ci token",
		TokenHash: "deadbeef",
	}).Exec(ctx)
	require.NoError(t, err)

	sink := &capturingSink{}
	handler := iamclient.NewBackchannelLogoutHandler(testConfig(), repo).
		WithEventSink(sink)

	var resp *iamclient.BackchannelLogoutResponse
	err = handler.Execute(ctx, iamclient.BackchannelLogoutMessage{
		Event:      "logout",
		User:       iamclient.BackchannelUser{ID: "iam-user-1"},
		OnResponse: func(r *iamclient.BackchannelLogoutResponse) { resp = r },
	})
	require.NoError(t, err)

	require.NotNil(t, resp)
	assert.True(t, resp.UserFound)
	assert.Equal(t, int64(2), resp.SessionsDropped)
	assert.Equal(t, int64(1), resp.TokensRevoked)

	require.Len(t, sink.events, 1)
	assert.Equal(t, iamclient.EventBackchannelLogout, sink.events[0].EventType)

	// revocation is idempotent: a replay finds nothing left to revoke
	resp = nil
	err = handler.Execute(ctx, iamclient.BackchannelLogoutMessage{
		Event:      "logout",
		User:       iamclient.BackchannelUser{ID: "iam-user-1"},
		OnResponse: func(r *iamclient.BackchannelLogoutResponse) { resp = r },
	})
	require.NoError(t, err)
	assert.Zero(t, resp.SessionsDropped)
	assert.Zero(t, resp.TokensRevoked)
}

func TestBackchannelLogoutRejectsInvalidPayload(t *testing.T) {
	db := setupTestDB(t)
	repo := iamclient.NewRepositoryManager(db)
	handler := iamclient.NewBackchannelLogoutHandler(testConfig(), repo)

	err := handler.Execute(context.Background(), iamclient.BackchannelLogoutMessage{
		Event: "something-else",
		User:  iamclient.BackchannelUser{ID: "iam-user-1"},
	})
	assert.Error(t, err)
}

func TestBackchannelLogoutCancelledContext(t *testing.T) {
	db := setupTestDB(t)
	repo := iamclient.NewRepositoryManager(db)
	handler := iamclient.NewBackchannelLogoutHandler(testConfig(), repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := handler.Execute(ctx, iamclient.BackchannelLogoutMessage{
		Event: "logout",
		User:  iamclient.BackchannelUser{ID: "iam-user-1"},
	})
	assert.Error(t, err)
}
