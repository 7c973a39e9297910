package ledger

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProjectContract is one deployed per-project contract.
type ProjectContract struct {
	g       *Gateway
	address common.Address
}

func (p *ProjectContract) Address() common.Address { return p.address }

func (p *ProjectContract) read(ctx context.Context, method string) (any, error) {
	out, err := p.g.call(ctx, KindProject, p.address, method)
	if err != nil {
		return nil, err
	}
	return single(method, out)
}

func (p *ProjectContract) ProjectManager(ctx context.Context) (common.Address, error) {
	v, err := p.read(ctx, "projectManager")
	if err != nil {
		return common.Address{}, err
	}
	return toAddress("projectManager", v)
}

func (p *ProjectContract) AssessmentProviders(ctx context.Context) ([]common.Address, error) {
	v, err := p.read(ctx, "getAssessmentProvidersAddresses")
	if err != nil {
		return nil, err
	}
	return toAddresses("getAssessmentProvidersAddresses", v)
}

func (p *ProjectContract) NumOfAssessmentProviders(ctx context.Context) (int, error) {
	v, err := p.read(ctx, "numOfAssessmentProviders")
	if err != nil {
		return 0, err
	}
	return toCount("numOfAssessmentProviders", v)
}

// AdministrativeAuthority returns nil while no authority is assigned.
func (p *ProjectContract) AdministrativeAuthority(ctx context.Context) (*common.Address, error) {
	v, err := p.read(ctx, "administrativeAuthority")
	if err != nil {
		return nil, err
	}
	return toOptionalAddress("administrativeAuthority", v)
}

// MainDocument returns the canonical DPP or DGD reference, or nil when none was set.
func (p *ProjectContract) MainDocument(ctx context.Context, kind MainDocumentType) (*Document, error) {
	method := kind.pick("DPP", "DGD")
	out, err := p.g.call(ctx, KindProject, p.address, method)
	if err != nil {
		return nil, err
	}

	var doc Document
	switch len(out) {
	case 1:
		// some toolchains return the struct getter as one tuple
		if doc, err = toDocument(method, out[0]); err != nil {
			return nil, err
		}
	case 3:
		if doc.Id, err = toString(method+".id", out[0]); err != nil {
			return nil, err
		}
		if doc.Owner, err = toAddress(method+".owner", out[1]); err != nil {
			return nil, err
		}
		if doc.DocumentHash, err = toString(method+".documentHash", out[2]); err != nil {
			return nil, err
		}
	default:
		return nil, &CorruptDataError{Field: method, Value: len(out)}
	}

	if doc.Id == "" {
		return nil, nil
	}
	return &doc, nil
}

// SentDocumentContracts lists document contract addresses in ledger order.
func (p *ProjectContract) SentDocumentContracts(ctx context.Context, kind MainDocumentType) ([]common.Address, error) {
	method := kind.pick("getSentDPPsAddresses", "getSentDGDsAddresses")
	v, err := p.read(ctx, method)
	if err != nil {
		return nil, err
	}
	return toAddresses(method, v)
}

func (p *ProjectContract) NumOfSent(ctx context.Context, kind MainDocumentType) (int, error) {
	method := kind.pick("getSentDPPsLength", "getSentDGDsLength")
	v, err := p.read(ctx, method)
	if err != nil {
		return 0, err
	}
	return toCount(method, v)
}

func (p *ProjectContract) NumOfAssessed(ctx context.Context, kind MainDocumentType) (int, error) {
	method := kind.pick("numOfAssessedDPPs", "numOfAssessedDGDs")
	v, err := p.read(ctx, method)
	if err != nil {
		return 0, err
	}
	return toCount(method, v)
}

func (p *ProjectContract) IsDPPPhaseFinalized(ctx context.Context) (bool, error) {
	v, err := p.read(ctx, "isDPPPhaseFinalized")
	if err != nil {
		return false, err
	}
	return toBool("isDPPPhaseFinalized", v)
}

func (p *ProjectContract) DateCreated(ctx context.Context) (time.Time, error) {
	v, err := p.read(ctx, "dateCreated")
	if err != nil {
		return time.Time{}, err
	}
	return toTime("dateCreated", v)
}

// SetMainDocument records the canonical DPP or DGD reference.
func (p *ProjectContract) SetMainDocument(ctx context.Context, signer common.Address, kind MainDocumentType, doc Document) (*Receipt, error) {
	return p.g.send(ctx, KindProject, p.address, signer, kind.pick("setDPP", "setDGD"), doc)
}

// SendMainDocument creates one document contract per request in a single transaction.
func (p *ProjectContract) SendMainDocument(ctx context.Context, signer common.Address, kind MainDocumentType, requests []DocumentContractRequest) (*Receipt, error) {
	return p.g.send(ctx, KindProject, p.address, signer, kind.pick("sendDPP", "sendDGD"), requests)
}

func (p *ProjectContract) AddAssessmentProviders(ctx context.Context, signer common.Address, providers []common.Address) (*Receipt, error) {
	return p.g.send(ctx, KindProject, p.address, signer, "addAssessmentProviders", providers)
}

func (p *ProjectContract) RemoveAssessmentProviders(ctx context.Context, signer common.Address, providers []common.Address) (*Receipt, error) {
	return p.g.send(ctx, KindProject, p.address, signer, "removeAssessmentProviders", providers)
}

func (p *ProjectContract) ChangeAdministrativeAuthority(ctx context.Context, signer, authority common.Address) (*Receipt, error) {
	return p.g.send(ctx, KindProject, p.address, signer, "changeAdministrativeAuthority", authority)
}

func (p *ProjectContract) FinalizeDPPPhase(ctx context.Context, signer common.Address) (*Receipt, error) {
	return p.g.send(ctx, KindProject, p.address, signer, "finalizeDPPPhase")
}

func (t MainDocumentType) pick(dpp, dgd string) string {
	if t == DGD {
		return dgd
	}
	return dpp
}
