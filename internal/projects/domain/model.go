package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/permitchain/permit-backend/internal/ledger"
	userdomain "github.com/permitchain/permit-backend/internal/users/domain"
)

// ProjectState is the store's cache of the ledger workflow phase.
type ProjectState string

const (
	StateConditions     ProjectState = "AQUIRING_PROJECT_CONDITIONS"
	StateOpinions       ProjectState = "AQUIRING_PROJECT_OPINIONS"
	StateBuildingPermit ProjectState = "AQUIRING_BUILDING_PERMIT"
)

func (s ProjectState) Valid() bool {
	switch s {
	case StateConditions, StateOpinions, StateBuildingPermit:
		return true
	}
	return false
}

// Next returns the phase that follows s, or false when s is terminal.
func (s ProjectState) Next() (ProjectState, bool) {
	switch s {
	case StateConditions:
		return StateOpinions, true
	case StateOpinions:
		return StateBuildingPermit, true
	}
	return "", false
}

// Project is the store record of a project. Everything except ProjectState
// and SmartContractAddress is owned by the store.
type Project struct {
	ID                             string         `json:"id"`
	Name                           string         `json:"name"`
	Description                    string         `json:"description"`
	ConstructionTitle              string         `json:"construction_title"`
	ConstructionType               string         `json:"construction_type"`
	ConstructionImpactsEnvironment bool           `json:"construction_impacts_environment"`
	ProjectState                   ProjectState   `json:"project_state"`
	SmartContractAddress           common.Address `json:"smart_contract_address"`
	CreatedAt                      time.Time      `json:"created_at"`
	UpdatedAt                      time.Time      `json:"updated_at"`
	Investors                      []Investor     `json:"investors,omitempty"`
}

// Investor exists only in the store.
type Investor struct {
	ID            string `json:"id"`
	ProjectID     string `json:"project_id"`
	Name          string `json:"name"`
	StreetAddress string `json:"street_address"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	TaxID         string `json:"tax_id"`
}

// ProjectDetails are the fields a project manager may edit before the first phase closes.
type ProjectDetails struct {
	Name                           string `json:"name"`
	Description                    string `json:"description"`
	ConstructionTitle              string `json:"construction_title"`
	ConstructionType               string `json:"construction_type"`
	ConstructionImpactsEnvironment bool   `json:"construction_impacts_environment"`
}

func (d *ProjectDetails) Normalize() error {
	d.Name = strings.TrimSpace(d.Name)
	d.Description = strings.TrimSpace(d.Description)
	d.ConstructionTitle = strings.TrimSpace(d.ConstructionTitle)
	d.ConstructionType = strings.TrimSpace(d.ConstructionType)
	if d.Name == "" {
		return invalid("name required")
	}
	if d.ConstructionTitle == "" {
		return invalid("construction title required")
	}
	return nil
}

type NewProject struct {
	ProjectDetails
	Investors []Investor `json:"investors"`
}

func (p *NewProject) Normalize() error {
	if err := p.ProjectDetails.Normalize(); err != nil {
		return err
	}
	for i := range p.Investors {
		p.Investors[i].Name = strings.TrimSpace(p.Investors[i].Name)
		if p.Investors[i].Name == "" {
			return invalid("investor name required")
		}
	}
	return nil
}

// MainDocument is the canonical DPP or DGD reference held by the ledger.
type MainDocument struct {
	ID           string         `json:"id"`
	Owner        common.Address `json:"owner"`
	DocumentHash string         `json:"document_hash"`
	URL          string         `json:"url"`
}

// DocumentContract is a snapshot of one assessment request as read from the ledger.
type DocumentContract struct {
	Address                     common.Address          `json:"document_contract_address"`
	AssessmentProvider          userdomain.User         `json:"assessment_provider"`
	MainDocumentType            ledger.MainDocumentType `json:"main_document_type"`
	IsClosed                    bool                    `json:"is_closed"`
	AssessmentDueDate           *time.Time              `json:"assessment_due_date"`
	RequestedAssessmentDueDate  *time.Time              `json:"requested_assessment_due_date"`
	MainDocumentUpdateRequested bool                    `json:"main_document_update_requested"`
	Attachments                 []string                `json:"attachments"`
	AssessmentAttachments       []string                `json:"assessment_attachments"`
	AssessmentMainDocument      string                  `json:"assessment_main_document,omitempty"`
	AssessmentDateProvided      *time.Time              `json:"assessment_date_provided"`
	DateCreated                 time.Time               `json:"date_created"`
}

// ProjectView composes the store record with parties and documents read live from the ledger.
type ProjectView struct {
	Project

	ProjectManager           userdomain.User   `json:"project_manager"`
	AssessmentProviders      []userdomain.User `json:"assessment_providers"`
	NumOfAssessmentProviders int               `json:"num_of_assessment_providers"`
	AdministrativeAuthority  *userdomain.User  `json:"administrative_authority"`

	DPP                 *MainDocument      `json:"dpp"`
	DGD                 *MainDocument      `json:"dgd"`
	SentDPPs            []DocumentContract `json:"sent_dpps"`
	SentDGDs            []DocumentContract `json:"sent_dgds"`
	NumOfSentDPPs       int                `json:"num_of_sent_dpps"`
	NumOfSentDGDs       int                `json:"num_of_sent_dgds"`
	NumOfAssessedDPPs   int                `json:"num_of_assessed_dpps"`
	NumOfAssessedDGDs   int                `json:"num_of_assessed_dgds"`
	IsDPPPhaseFinalized bool               `json:"is_dpp_phase_finalized"`

	Viewer *Viewer `json:"viewer,omitempty"`
}

// Viewer describes what the requesting party may do on the project.
type Viewer struct {
	Address common.Address `json:"address"`
	Role    Role           `json:"role"`
	// DocumentContracts addressed to the viewer, when they are an assessment provider.
	DocumentContracts []common.Address `json:"document_contracts,omitempty"`
}

// RepairKind names a reconciliation pass that brings the store back in line with the ledger.
type RepairKind string

const (
	RepairMembership RepairKind = "membership"
	RepairPhase      RepairKind = "phase"
	RepairOrphan     RepairKind = "orphan"
)
