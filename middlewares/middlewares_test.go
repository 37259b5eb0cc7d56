package middlewares

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func whoAmI(c *gin.Context) {
	actor, ok := ActorFrom(c.Request.Context())
	if !ok {
		c.JSON(http.StatusOK, gin.H{"anonymous": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": actor.ID, "role": actor.Role})
}

func TestAuthMiddleware(t *testing.T) {
	t.Setenv("TOKEN_HOUR_LIFESPAN", "1")
	token, err := utils.JwtGenerate("sup-1", "supplier")
	require.NoError(t, err)

	r := gin.New()
	r.Use(AuthMiddleware())
	r.GET("/me", whoAmI)
	r.GET("/private", RequireActor(), whoAmI)

	cases := []struct {
		name   string
		path   string
		header string
		code   int
		body   string
	}{
		{"valid token", "/me", "Bearer " + token, http.StatusOK, `"id":"sup-1"`},
		{"no header", "/me", "", http.StatusOK, `"anonymous":true`},
		{"garbage token", "/me", "Bearer nope", http.StatusUnauthorized, "unauthorized"},
		{"missing scheme", "/me", token, http.StatusUnauthorized, "unauthorized"},
		{"private without token", "/private", "", http.StatusUnauthorized, "unauthorized"},
		{"private with token", "/private", "Bearer " + token, http.StatusOK, `"role":"supplier"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			assert.Contains(t, w.Body.String(), tc.body)
		})
	}
}

func TestActorFrom_RejectsUnknownRole(t *testing.T) {
	ctx := context.WithValue(context.Background(), authString("auth"), &utils.JwtCustomClaim{ID: "x", Role: "auditor"})
	_, ok := ActorFrom(ctx)
	assert.False(t, ok)

	ctx = context.WithValue(context.Background(), authString("auth"), &utils.JwtCustomClaim{ID: "admin-1", Role: "admin"})
	actor, ok := ActorFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, aftersales.Actor{ID: "admin-1", Role: aftersales.RoleAdmin}, actor)
}

type countingNames struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingNames) UserNames(ctx context.Context, ids []string) (map[string]string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := map[string]string{}
	for _, id := range ids {
		if id != "ghost" {
			out[id] = "name of " + id
		}
	}
	return out, nil
}

func (c *countingNames) StoreNames(ctx context.Context, ids []string) (map[string]string, error) {
	return map[string]string{"store-1": "Downtown"}, nil
}

func TestLoaders_BatchNameLookups(t *testing.T) {
	src := &countingNames{}
	ctx := context.WithValue(context.Background(), loadersKey, NewLoaders(src))

	names, errs := For(ctx).UserNameLoader.LoadMany(ctx, []string{"buyer-1", "sup-1", "ghost"})()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, []string{"name of buyer-1", "name of sup-1", ""}, names)
	assert.Equal(t, 1, src.calls)

	// cached after the first batch
	id := "sup-1"
	name, err := GetUserName(ctx, &id)
	require.NoError(t, err)
	assert.Equal(t, "name of sup-1", name)
	assert.Equal(t, 1, src.calls)

	store := "store-1"
	name, err = GetStoreName(ctx, &store)
	require.NoError(t, err)
	assert.Equal(t, "Downtown", name)
}

func TestLoaders_ErrorAndMissingContext(t *testing.T) {
	src := &countingNames{err: errors.New("db down")}
	ctx := context.WithValue(context.Background(), loadersKey, NewLoaders(src))
	id := "buyer-1"
	_, err := GetUserName(ctx, &id)
	assert.EqualError(t, err, "db down")

	name, err := GetUserName(context.Background(), &id)
	assert.NoError(t, err)
	assert.Empty(t, name)
}
