// Package identity resolves invoker roles from a static role table.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dukex/ticketflow/pkg/models"
)

var (
	ErrUnknownInvoker = errors.New("unknown invoker")
	ErrInvalidRole    = errors.New("invalid role")
)

// RoleFile is the on-disk role table. JSON documents are accepted as well.
type RoleFile struct {
	DefaultRole models.Role            `yaml:"default_role"`
	Users       map[string]models.Role `yaml:"users"`
}

// StaticRoles implements protocol.RoleResolver over a fixed table.
type StaticRoles struct {
	users       map[string]models.Role
	defaultRole models.Role
}

// NewStaticRoles validates the table. An empty defaultRole makes unknown
// invokers an error instead of granting them a role.
func NewStaticRoles(users map[string]models.Role, defaultRole models.Role) (*StaticRoles, error) {
	if defaultRole != "" && !defaultRole.Valid() {
		return nil, fmt.Errorf("%w: default role %q", ErrInvalidRole, defaultRole)
	}

	table := make(map[string]models.Role, len(users))

	for id, role := range users {
		if !role.Valid() {
			return nil, fmt.Errorf("%w: %q for %s", ErrInvalidRole, role, id)
		}

		table[id] = role
	}

	return &StaticRoles{users: table, defaultRole: defaultRole}, nil
}

// LoadFile reads a role table from path.
func LoadFile(path string) (*StaticRoles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role file %s: %w", path, err)
	}

	var file RoleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse role file %s: %w", path, err)
	}

	return NewStaticRoles(file.Users, file.DefaultRole)
}

func (s *StaticRoles) RoleOf(_ context.Context, invoker models.Invoker) (models.Role, error) {
	if invoker.System {
		return models.RoleAdmin, nil
	}

	if role, ok := s.users[invoker.ID]; ok {
		return role, nil
	}

	if s.defaultRole != "" {
		return s.defaultRole, nil
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownInvoker, invoker.ID)
}
