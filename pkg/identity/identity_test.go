package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/ticketflow/pkg/models"
)

func TestStaticRoles_RoleOf(t *testing.T) {
	roles, err := NewStaticRoles(map[string]models.Role{
		"alice": models.RoleSupervisor,
		"bob":   models.RoleAdmin,
	}, models.RoleAgent)
	require.NoError(t, err)

	tests := []struct {
		name    string
		invoker models.Invoker
		want    models.Role
	}{
		{name: "listed", invoker: models.Invoker{ID: "alice"}, want: models.RoleSupervisor},
		{name: "default", invoker: models.Invoker{ID: "carol"}, want: models.RoleAgent},
		{name: "system", invoker: models.SystemInvoker, want: models.RoleAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, err := roles.RoleOf(context.Background(), tt.invoker)
			require.NoError(t, err)
			assert.Equal(t, tt.want, role)
		})
	}
}

func TestStaticRoles_UnknownWithoutDefault(t *testing.T) {
	roles, err := NewStaticRoles(nil, "")
	require.NoError(t, err)

	_, err = roles.RoleOf(context.Background(), models.Invoker{ID: "ghost"})
	assert.ErrorIs(t, err, ErrUnknownInvoker)
}

func TestNewStaticRoles_InvalidRole(t *testing.T) {
	_, err := NewStaticRoles(map[string]models.Role{"alice": "root"}, "")
	require.ErrorIs(t, err, ErrInvalidRole)

	_, err = NewStaticRoles(nil, "owner")
	require.ErrorIs(t, err, ErrInvalidRole)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{name: "yaml", content: "default_role: agent\nusers:\n  alice: admin\n"},
		{name: "json", content: `{"default_role": "agent", "users": {"alice": "admin"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			roles, err := LoadFile(path)
			require.NoError(t, err)

			role, err := roles.RoleOf(context.Background(), models.Invoker{ID: "alice"})
			require.NoError(t, err)
			assert.Equal(t, models.RoleAdmin, role)
		})
	}

	_, err := LoadFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
