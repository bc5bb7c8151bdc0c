package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnpilot/internal/model"
	"learnpilot/internal/repository"
	"learnpilot/pkg/token"
)

func newUserServiceForTest(t *testing.T) (UserService, repository.UserRepository) {
	t.Helper()
	repo := repository.NewUserRepository(newTestDB(t))
	return NewUserService(repo, nil, nil, false), repo
}

func TestResolveUser_EmailIsStableAndUpdatesName(t *testing.T) {
	svc, _ := newUserServiceForTest(t)
	ctx := context.Background()

	first, err := svc.ResolveUser(ctx, token.Identity{Email: "x@y.z", Name: "Old"})
	require.NoError(t, err)
	second, err := svc.ResolveUser(ctx, token.Identity{Email: "x@y.z", Name: "New"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "New", second.Name)

	noName, err := svc.ResolveUser(ctx, token.Identity{Email: "x@y.z"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, noName.ID)
	assert.Equal(t, "New", noName.Name)
}

func TestResolveUser_EmailWithoutNameUsesLocalPart(t *testing.T) {
	svc, _ := newUserServiceForTest(t)

	user, err := svc.ResolveUser(context.Background(), token.Identity{Email: "  ada@example.com "})
	require.NoError(t, err)
	assert.Equal(t, "ada", user.Name)
	assert.Equal(t, "ada@example.com", user.EmailValue())
	assert.Equal(t, model.RoleUser, user.Role)
}

func TestResolveUser_NameOnlyReusesNewestOrCreates(t *testing.T) {
	svc, repo := newUserServiceForTest(t)
	ctx := context.Background()

	created, err := svc.ResolveUser(ctx, token.Identity{Name: "sam"})
	require.NoError(t, err)
	assert.Nil(t, created.Email)

	again, err := svc.ResolveUser(ctx, token.Identity{Name: "sam"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	newer := &model.User{Name: "sam", Role: model.RoleUser}
	require.NoError(t, repo.Create(newer))
	latest, err := svc.ResolveUser(ctx, token.Identity{Name: "sam"})
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)
}

func TestResolveUser_EmptyIdentityIsSharedGuest(t *testing.T) {
	svc, _ := newUserServiceForTest(t)
	ctx := context.Background()

	a, err := svc.ResolveUser(ctx, token.Identity{})
	require.NoError(t, err)
	b, err := svc.ResolveUser(ctx, token.Identity{Name: "   "})
	require.NoError(t, err)
	g, err := svc.Guest(ctx)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.ID, g.ID)
	assert.True(t, a.IsGuest())
	assert.Equal(t, model.GuestName, a.Name)
	assert.Equal(t, model.RoleGuest, a.Role)
}
