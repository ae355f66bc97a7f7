package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizpos/tenantguard/pkg/rbac"
	"github.com/bizpos/tenantguard/pkg/tenant"
)

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSeed(t *testing.T) {
	t.Parallel()

	path := writeSeed(t, `
tenants:
  - id: 0b4c1b8e-5b6f-4a1e-9d51-6a1f7c2f0a01
    name: Alpha
  - id: 0b4c1b8e-5b6f-4a1e-9d51-6a1f7c2f0a02
    name: Beta
    active: false
users:
  - email: Owner@Alpha.test
    password: secret
    role: owner
    tenant: 0b4c1b8e-5b6f-4a1e-9d51-6a1f7c2f0a01
  - email: dev@tenantguard.test
    password: secret
    role: dev
    permissions: [reports.read]
`)
	s, err := loadSeed(path)
	require.NoError(t, err)

	all, err := s.tenants.List(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Active)
	assert.False(t, all[1].Active)

	acc, err := s.users.FindByEmail(t.Context(), "owner@alpha.test")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleOwner, acc.User.Role)
	assert.Equal(t, uuid.NewSHA1(seedNamespace, []byte("owner@alpha.test")), acc.User.ID, "ids are stable across restarts")

	acc, err = s.users.FindByEmail(t.Context(), "dev@tenantguard.test")
	require.NoError(t, err)
	assert.Equal(t, []rbac.Permission{"reports.read"}, acc.User.Permissions)
}

func TestLoadSeed_Empty(t *testing.T) {
	t.Parallel()
	s, err := loadSeed("")
	require.NoError(t, err)
	_, err = s.tenants.Get(t.Context(), uuid.New())
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
}

func TestLoadSeed_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown field":   "users:\n  - email: a@b.test\n    pass: x\n",
		"no password":     "users:\n  - email: a@b.test\n    role: dev\n",
		"unbound owner":   "users:\n  - email: a@b.test\n    password: x\n    role: owner\n",
		"tenant with dev": "users:\n  - email: a@b.test\n    password: x\n    role: dev\n    tenant: 0b4c1b8e-5b6f-4a1e-9d51-6a1f7c2f0a01\n",
		"nameless tenant": "tenants:\n  - id: 0b4c1b8e-5b6f-4a1e-9d51-6a1f7c2f0a01\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := loadSeed(writeSeed(t, body))
			assert.ErrorIs(t, err, ErrInvalidSeed)
		})
	}

	_, err := loadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrInvalidSeed)
}
