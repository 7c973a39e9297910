package domain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUserNotFound = errors.New("user not found")

// UserType is the role a user registered with. It describes the party, not
// their rights on a given project; those are read from the ledger.
type UserType string

const (
	ProjectManager          UserType = "PROJECT_MANAGER"
	AssessmentProvider      UserType = "ASSESSMENT_PROVIDER"
	AdministrativeAuthority UserType = "ADMINISTRATIVE_AUTHORITY"
	Investor                UserType = "INVESTOR"
)

func (t UserType) Valid() bool {
	switch t {
	case ProjectManager, AssessmentProvider, AdministrativeAuthority, Investor:
		return true
	}
	return false
}

func ParseUserType(s string) (UserType, error) {
	t := UserType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown user type %q", s)
	}
	return t, nil
}

// User is a registered party. WalletAddress joins it to ledger-reported addresses.
// ProjectAddresses mirrors ledger membership and is only a query index.
type User struct {
	ID               string           `json:"id"`
	WalletAddress    common.Address   `json:"wallet_address"`
	Name             string           `json:"name"`
	Email            string           `json:"email"`
	Phone            string           `json:"phone,omitempty"`
	StreetAddress    string           `json:"street_address,omitempty"`
	UserType         UserType         `json:"user_type"`
	ProjectAddresses []common.Address `json:"project_addresses"`
}

func (u *User) HasProject(contract common.Address) bool {
	for _, a := range u.ProjectAddresses {
		if a == contract {
			return true
		}
	}
	return false
}
