package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Role is what a party is on one project according to the ledger.
type Role uint8

const (
	RoleNone Role = iota
	RoleProjectManager
	RoleAssessmentProvider
	RoleAdministrativeAuthority
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "NONE"
	case RoleProjectManager:
		return "PROJECT_MANAGER"
	case RoleAssessmentProvider:
		return "ASSESSMENT_PROVIDER"
	case RoleAdministrativeAuthority:
		return "ADMINISTRATIVE_AUTHORITY"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	for _, c := range []Role{RoleNone, RoleProjectManager, RoleAssessmentProvider, RoleAdministrativeAuthority} {
		if c.String() == string(b) {
			*r = c
			return nil
		}
	}
	return fmt.Errorf("unknown role %q", b)
}

// Membership is the ledger's view of who holds which role on a project.
type Membership struct {
	Manager   common.Address
	Providers []common.Address
	Authority *common.Address
}

// RoleOf resolves a. The manager wins over every other role, then the
// administrative authority, then assessment providers.
func (m Membership) RoleOf(a common.Address) Role {
	switch {
	case a == m.Manager:
		return RoleProjectManager
	case m.Authority != nil && a == *m.Authority:
		return RoleAdministrativeAuthority
	}
	for _, p := range m.Providers {
		if p == a {
			return RoleAssessmentProvider
		}
	}
	return RoleNone
}

// Parties lists every address the store index should link to the project.
func (m Membership) Parties() []common.Address {
	out := make([]common.Address, 0, len(m.Providers)+2)
	seen := make(map[common.Address]bool, len(m.Providers)+2)
	add := func(a common.Address) {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	add(m.Manager)
	for _, p := range m.Providers {
		add(p)
	}
	if m.Authority != nil {
		add(*m.Authority)
	}
	return out
}
