package http

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/projects/domain"
	"github.com/permitchain/permit-backend/internal/projects/events"
	"github.com/permitchain/permit-backend/internal/projects/service"
	"github.com/permitchain/permit-backend/internal/reconcile"
)

type Reconciler interface {
	ReconcileProject(ctx context.Context, contract common.Address) (*reconcile.Report, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, contract common.Address) (*events.Subscription, error)
}

// Handler bundles the dependencies for project and document contract endpoints.
type Handler struct {
	projects   *service.ProjectService
	builder    *service.AggregateBuilder
	orch       *service.WorkflowOrchestrator
	docs       *service.DocumentProjector
	reconciler Reconciler
	events     Subscriber
}

type Deps struct {
	Projects     *service.ProjectService
	Builder      *service.AggregateBuilder
	Orchestrator *service.WorkflowOrchestrator
	Documents    *service.DocumentProjector
	Reconciler   Reconciler
	Events       Subscriber
}

func New(d Deps) *Handler {
	return &Handler{
		projects:   d.Projects,
		builder:    d.Builder,
		orch:       d.Orchestrator,
		docs:       d.Documents,
		reconciler: d.Reconciler,
		events:     d.Events,
	}
}

type signed struct {
	Signer string `json:"signer" binding:"required"`
}

type documentReq struct {
	ID           string `json:"id" binding:"required"`
	Owner        string `json:"owner"`
	DocumentHash string `json:"document_hash"`
}

func (d documentReq) toLedger() (ledger.Document, error) {
	doc := ledger.Document{Id: d.ID, DocumentHash: d.DocumentHash}
	if d.Owner != "" {
		owner, err := ledger.ParseAddress(d.Owner)
		if err != nil {
			return ledger.Document{}, err
		}
		doc.Owner = owner
	}
	return doc, nil
}

func toLedgerDocuments(in []documentReq) ([]ledger.Document, error) {
	out := make([]ledger.Document, 0, len(in))
	for _, d := range in {
		doc, err := d.toLedger()
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

type createProjectReq struct {
	signed
	domain.ProjectDetails
	Investors []domain.Investor `json:"investors"`
}

type updateDetailsReq struct {
	signed
	domain.ProjectDetails
}

type addressesReq struct {
	signed
	Addresses []string `json:"addresses" binding:"required"`
}

type setMainDocumentReq struct {
	signed
	Document documentReq `json:"document"`
}

type assessmentRequestReq struct {
	AssessmentProvider string        `json:"assessment_provider" binding:"required"`
	Attachments        []documentReq `json:"attachments"`
	AssessmentDueDate  time.Time     `json:"assessment_due_date"`
}

type sendMainDocumentReq struct {
	signed
	Requests []assessmentRequestReq `json:"requests" binding:"required"`
}

type changeAuthorityReq struct {
	signed
	Address string `json:"address" binding:"required"`
}

type extensionReq struct {
	signed
	DueDate time.Time `json:"due_date"`
}

type evaluationReq struct {
	signed
	Confirmed *bool `json:"confirmed" binding:"required"`
}

type assessmentReq struct {
	signed
	MainDocument documentReq   `json:"main_document"`
	Attachments  []documentReq `json:"attachments"`
}
