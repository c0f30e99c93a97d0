package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/webhook"
	"github.com/splax/instantiate/pkg/crypto"
	"github.com/splax/instantiate/pkg/jwt"
)

func TestHashedProjectKeys(t *testing.T) {
	hash, err := crypto.HashKey("hashed-key")
	require.NoError(t, err)
	f := newFixture(t, Config{ProjectKeys: []string{hash, "plain-key"}})
	headers := map[string]string{webhook.GitHubEventHeader: "push"}

	assert.Equal(t, http.StatusOK, post(t, f.router, "/api/update?key=hashed-key", headers, `{}`).Code)
	assert.Equal(t, http.StatusOK, post(t, f.router, "/api/update?key=hashed-key", headers, `{}`).Code)
	assert.Equal(t, http.StatusOK, post(t, f.router, "/api/update?key=plain-key", headers, `{}`).Code)
	assert.Equal(t, http.StatusForbidden, post(t, f.router, "/api/update?key=other", headers, `{}`).Code)
}

func TestEmptyAllowListAcceptsAll(t *testing.T) {
	assert.Nil(t, newKeyAllowList([]string{" ", ""}))
}

func getStacks(t *testing.T, h http.Handler, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStacksRequireToken(t *testing.T) {
	f := newFixture(t, Config{JWTSecret: "api-secret"})
	ctx := context.Background()
	require.NoError(t, f.store.SaveStack(ctx, domain.StackRecord{ProjectID: "1", MRID: "a"}))
	require.NoError(t, f.store.SaveStack(ctx, domain.StackRecord{ProjectID: "2", MRID: "b"}))

	assert.Equal(t, http.StatusUnauthorized, getStacks(t, f.router, "/api/stacks", "").Code)
	assert.Equal(t, http.StatusUnauthorized, getStacks(t, f.router, "/api/stacks", "garbage").Code)

	global, err := jwt.GenerateToken("ops", "", "api-secret", time.Hour)
	require.NoError(t, err)
	rec := getStacks(t, f.router, "/api/stacks", global)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []domain.StackRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	scoped, err := jwt.GenerateToken("team", "2", "api-secret", time.Hour)
	require.NoError(t, err)
	rec = getStacks(t, f.router, "/api/stacks", scoped)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []domain.StackRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, "2", mine[0].ProjectID)

	assert.Equal(t, http.StatusForbidden, getStacks(t, f.router, "/api/stacks?project_id=1", scoped).Code)
	assert.Equal(t, http.StatusOK, getStacks(t, f.router, "/api/stacks?access_token="+global, "").Code)

	assert.Equal(t, http.StatusUnauthorized, getStacks(t, f.router, "/stacks", "").Code)
	assert.Equal(t, http.StatusOK, getStacks(t, f.router, "/stacks?access_token="+global, "").Code)
	assert.Equal(t, http.StatusForbidden, getStacks(t, f.router, "/stacks?project_id=1", scoped).Code)
}
