package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleOrdering(t *testing.T) {
	assert.True(t, RoleAdmin.AtLeast(RoleDataOwner))
	assert.True(t, RoleDataOwner.AtLeast(RoleDataScientist))
	assert.True(t, RoleDataScientist.AtLeast(RoleGuest))
	assert.False(t, RoleGuest.AtLeast(RoleDataScientist))
	assert.False(t, RoleDataScientist.AtLeast(RoleDataOwner))
	assert.False(t, Role("bogus").AtLeast(RoleGuest))
}

func TestParseRoleDefaultsToGuest(t *testing.T) {
	assert.Equal(t, RoleDataOwner, ParseRole("data_owner"))
	assert.Equal(t, RoleGuest, ParseRole(""))
	assert.Equal(t, RoleGuest, ParseRole("superuser"))
}

func TestHeaderExtractor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(UserHeader, "alice@example.org")
	r.Header.Set(RoleHeader, "data_scientist")

	p := HeaderExtractor(r)
	assert.Equal(t, "alice@example.org", p.User)
	assert.Equal(t, RoleDataScientist, p.Role)
}

func TestHeaderExtractorAnonymous(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	p := HeaderExtractor(r)
	assert.Equal(t, "anonymous", p.User)
	assert.Equal(t, RoleGuest, p.Role)
}

func TestRequireRoleForbidsWeakerRoles(t *testing.T) {
	handler := PrincipalMiddleware(nil)(
		RequireRole(RoleDataOwner)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set(UserHeader, "bob")
	r.Header.Set(RoleHeader, "data_scientist")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)

	r.Header.Set(RoleHeader, "data_owner")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestJWTExtractorWithoutTokenIsGuest(t *testing.T) {
	extract, err := NewJWTExtractor(JWTExtractorConfig{})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	p := extract(r)
	assert.Equal(t, "anonymous", p.User)
	assert.Equal(t, RoleGuest, p.Role)
}
