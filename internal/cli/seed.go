package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/rbac"
	"github.com/bizpos/tenantguard/pkg/tenant"
)

// ErrInvalidSeed is returned for seed files that cannot be used.
var ErrInvalidSeed = errors.New("cli.invalid_seed")

// seedFile lists the accounts, and optionally the tenants, served by a
// process without an external user store:
//
//	tenants:
//	  - id: 0b4c1b8e-5b6f-4a1e-9d51-6a1f7c2f0a01
//	    name: Alpha Market
//	users:
//	  - email: owner@alpha.test
//	    password: secret
//	    role: owner
//	    tenant: 0b4c1b8e-5b6f-4a1e-9d51-6a1f7c2f0a01
type seedFile struct {
	Tenants []seedTenant `yaml:"tenants"`
	Users   []seedUser   `yaml:"users"`
}

type seedTenant struct {
	ID      uuid.UUID `yaml:"id"`
	Name    string    `yaml:"name"`
	TaxID   string    `yaml:"tax_id"`
	Address string    `yaml:"address"`
	Active  *bool     `yaml:"active"`
}

type seedUser struct {
	Email       string            `yaml:"email"`
	Password    string            `yaml:"password"`
	Role        rbac.Role         `yaml:"role"`
	Tenant      *uuid.UUID        `yaml:"tenant"`
	Permissions []rbac.Permission `yaml:"permissions"`
}

// seedNamespace derives stable user ids from emails, so tokens issued
// before a restart still name the same user.
var seedNamespace = uuid.MustParse("5d8f5a3e-3c1b-4c7e-9a55-1f0e6a3b2c10")

type seed struct {
	users   *identity.MemoryDirectory
	tenants *tenant.MemoryDirectory
}

// loadSeed reads the seed file at path. An empty path yields empty
// directories.
func loadSeed(path string) (seed, error) {
	s := seed{users: identity.NewMemoryDirectory(), tenants: tenant.NewMemoryDirectory()}
	if path == "" {
		return s, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return seed{}, errors.Join(ErrInvalidSeed, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var file seedFile
	if err := dec.Decode(&file); err != nil {
		return seed{}, errors.Join(ErrInvalidSeed, err)
	}

	for _, t := range file.Tenants {
		if t.ID == uuid.Nil || t.Name == "" {
			return seed{}, fmt.Errorf("%w: tenants need an id and a name", ErrInvalidSeed)
		}
		active := t.Active == nil || *t.Active
		s.tenants.Put(tenant.Tenant{ID: t.ID, Name: t.Name, TaxID: t.TaxID, Address: t.Address, Active: active})
	}

	for _, u := range file.Users {
		if u.Password == "" {
			return seed{}, fmt.Errorf("%w: %s has no password", ErrInvalidSeed, u.Email)
		}
		user := &identity.User{
			ID:          uuid.NewSHA1(seedNamespace, []byte(identity.NormalizeEmail(u.Email))),
			Email:       u.Email,
			Role:        u.Role,
			TenantID:    u.Tenant,
			Permissions: u.Permissions,
		}
		hash, err := identity.HashPassword(u.Password)
		if err != nil {
			return seed{}, errors.Join(ErrInvalidSeed, err)
		}
		if err := s.users.Add(user, hash); err != nil {
			return seed{}, errors.Join(ErrInvalidSeed, fmt.Errorf("%s: %w", u.Email, err))
		}
	}
	return s, nil
}
