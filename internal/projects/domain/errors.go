package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound         = errors.New("project not found")
	ErrAlreadyExists    = errors.New("project already exists")
	ErrInvalidProject   = errors.New("invalid project")
	ErrPhaseClosed      = errors.New("project details are locked after the conditions phase")
	ErrUnknownParty     = errors.New("ledger address has no matching user")
	ErrOrphanedContract = errors.New("project contract deployed without a store record")
	ErrPartiallyApplied = errors.New("ledger write applied but store update incomplete")
	ErrRefreshFailed    = errors.New("ledger write applied but the refreshed view could not be read")
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidProject, msg)
}

// UnknownPartyError is a ledger-referenced address with no user in the store.
type UnknownPartyError struct {
	Address common.Address
	Role    Role
}

func (e *UnknownPartyError) Error() string {
	return fmt.Sprintf("no user for %s %s", e.Role, e.Address.Hex())
}

func (e *UnknownPartyError) Is(target error) bool { return target == ErrUnknownParty }

// OrphanedContractError is a successful deployment whose store insert failed.
type OrphanedContractError struct {
	ContractAddress common.Address
	Manager         common.Address
	Err             error
}

func (e *OrphanedContractError) Error() string {
	return fmt.Sprintf("contract %s deployed for %s but not stored: %v", e.ContractAddress.Hex(), e.Manager.Hex(), e.Err)
}

func (e *OrphanedContractError) Unwrap() error { return e.Err }

func (e *OrphanedContractError) Is(target error) bool { return target == ErrOrphanedContract }

type AddressFailure struct {
	Address common.Address `json:"address"`
	Err     error          `json:"-"`
}

// PartiallyAppliedError reports a confirmed ledger write followed by store
// updates that did not all succeed. Succeeded updates were kept.
type PartiallyAppliedError struct {
	Operation string
	Project   common.Address
	Succeeded []common.Address
	Failed    []AddressFailure
	Err       error
}

func (e *PartiallyAppliedError) Error() string {
	if len(e.Failed) == 0 {
		return fmt.Sprintf("%s on %s partially applied: %v", e.Operation, e.Project.Hex(), e.Err)
	}
	failed := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		failed[i] = fmt.Sprintf("%s (%v)", f.Address.Hex(), f.Err)
	}
	return fmt.Sprintf("%s on %s partially applied: failed for %s", e.Operation, e.Project.Hex(), strings.Join(failed, ", "))
}

func (e *PartiallyAppliedError) Unwrap() error { return e.Err }

func (e *PartiallyAppliedError) Is(target error) bool { return target == ErrPartiallyApplied }
