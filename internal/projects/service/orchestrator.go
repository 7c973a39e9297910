package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/projects/domain"
	userdomain "github.com/permitchain/permit-backend/internal/users/domain"
)

const defaultStoreTimeout = 10 * time.Second

// AssessmentRequest asks one assessment provider to assess the current main document.
type AssessmentRequest struct {
	AssessmentProvider common.Address    `json:"assessment_provider"`
	Attachments        []ledger.Document `json:"attachments"`
	AssessmentDueDate  time.Time         `json:"assessment_due_date"`
}

// WorkflowOrchestrator runs mutating operations: the ledger write first,
// then the store update that mirrors it.
type WorkflowOrchestrator struct {
	gw       *ledger.Gateway
	projects ProjectStore
	users    UserDirectory
	members  MembershipStore
	builder  *AggregateBuilder
	docs     *DocumentProjector
	repair   RepairScheduler
	events   EventPublisher
	metrics  *Metrics

	storeTimeout time.Duration
}

type OrchestratorDeps struct {
	Gateway  *ledger.Gateway
	Projects ProjectStore
	Users    UserDirectory
	Members  MembershipStore
	Builder  *AggregateBuilder
	Docs     *DocumentProjector
	Repair   RepairScheduler
	Events   EventPublisher
	Metrics  *Metrics

	// StoreTimeout bounds the store updates that follow a confirmed ledger write.
	StoreTimeout time.Duration
}

func NewWorkflowOrchestrator(d OrchestratorDeps) *WorkflowOrchestrator {
	o := &WorkflowOrchestrator{
		gw:           d.Gateway,
		projects:     d.Projects,
		users:        d.Users,
		members:      d.Members,
		builder:      d.Builder,
		docs:         d.Docs,
		repair:       d.Repair,
		events:       d.Events,
		metrics:      d.Metrics,
		storeTimeout: d.StoreTimeout,
	}
	if o.repair == nil {
		o.repair = nopScheduler{}
	}
	if o.events == nil {
		o.events = nopPublisher{}
	}
	if o.storeTimeout <= 0 {
		o.storeTimeout = defaultStoreTimeout
	}
	return o
}

// CreateProject deploys a project contract for manager and records it.
func (o *WorkflowOrchestrator) CreateProject(ctx context.Context, req domain.NewProject, manager common.Address) (view *domain.ProjectView, err error) {
	const op = "createProject"
	defer func() { o.metrics.observe(op, err) }()

	if err := req.Normalize(); err != nil {
		return nil, err
	}
	if _, err := resolveParty(ctx, o.users, manager, domain.RoleProjectManager); err != nil {
		return nil, err
	}

	r, err := o.gw.DeployProject(ctx, manager)
	if err != nil {
		return nil, err
	}
	contract := r.ContractAddress

	storeCtx, cancel := o.afterConfirm(ctx)
	defer cancel()

	record := domain.Project{
		Name:                           req.Name,
		Description:                    req.Description,
		ConstructionTitle:              req.ConstructionTitle,
		ConstructionType:               req.ConstructionType,
		ConstructionImpactsEnvironment: req.ConstructionImpactsEnvironment,
		ProjectState:                   domain.StateConditions,
		SmartContractAddress:           contract,
		Investors:                      req.Investors,
	}

	record.CreatedAt, err = o.gw.Project(contract).DateCreated(storeCtx)
	if err != nil {
		return nil, o.orphaned(storeCtx, record, manager, err)
	}
	stored, err := o.projects.Create(storeCtx, record)
	if err != nil {
		return nil, o.orphaned(storeCtx, record, manager, err)
	}

	if err := o.members.AddProjectAddress(storeCtx, manager, contract); err != nil {
		o.schedule(storeCtx, domain.RepairMembership, contract, nil)
		return nil, &domain.PartiallyAppliedError{
			Operation: op,
			Project:   contract,
			Failed:    []domain.AddressFailure{{Address: manager, Err: err}},
			Err:       err,
		}
	}

	log.Printf("[workflow] project created id=%s contract=%s manager=%s", stored.ID, contract.Hex(), manager.Hex())
	o.publish(storeCtx, contract, op)
	return o.refresh(ctx, contract)
}

func (o *WorkflowOrchestrator) orphaned(ctx context.Context, record domain.Project, manager common.Address, cause error) error {
	log.Printf("[workflow] orphaned contract=%s manager=%s err=%v", record.SmartContractAddress.Hex(), manager.Hex(), cause)
	o.schedule(ctx, domain.RepairOrphan, record.SmartContractAddress, &record)
	return &domain.OrphanedContractError{ContractAddress: record.SmartContractAddress, Manager: manager, Err: cause}
}

func (o *WorkflowOrchestrator) AddAssessmentProviders(ctx context.Context, contract, signer common.Address, providers []common.Address) (view *domain.ProjectView, err error) {
	const op = "addAssessmentProviders"
	defer func() { o.metrics.observe(op, err) }()

	if err := validateAddresses(providers); err != nil {
		return nil, err
	}
	if _, err := o.authorize(ctx, op, contract, signer, domain.RoleProjectManager); err != nil {
		return nil, err
	}
	for _, a := range providers {
		if _, err := resolveParty(ctx, o.users, a, domain.RoleAssessmentProvider); err != nil {
			return nil, err
		}
	}

	if _, err := o.gw.Project(contract).AddAssessmentProviders(ctx, signer, providers); err != nil {
		o.scheduleUnconfirmed(ctx, err, domain.RepairMembership, contract)
		return nil, err
	}

	storeCtx, cancel := o.afterConfirm(ctx)
	defer cancel()
	if err := o.applyEach(storeCtx, op, contract, providers, o.members.AddProjectAddress); err != nil {
		return nil, err
	}

	o.publish(storeCtx, contract, op)
	return o.refresh(ctx, contract)
}

func (o *WorkflowOrchestrator) RemoveAssessmentProviders(ctx context.Context, contract, signer common.Address, providers []common.Address) (view *domain.ProjectView, err error) {
	const op = "removeAssessmentProviders"
	defer func() { o.metrics.observe(op, err) }()

	if err := validateAddresses(providers); err != nil {
		return nil, err
	}
	if _, err := o.authorize(ctx, op, contract, signer, domain.RoleProjectManager); err != nil {
		return nil, err
	}

	if _, err := o.gw.Project(contract).RemoveAssessmentProviders(ctx, signer, providers); err != nil {
		o.scheduleUnconfirmed(ctx, err, domain.RepairMembership, contract)
		return nil, err
	}

	storeCtx, cancel := o.afterConfirm(ctx)
	defer cancel()
	remove := func(ctx context.Context, user, project common.Address) error {
		err := o.members.RemoveProjectAddress(ctx, user, project)
		if errors.Is(err, userdomain.ErrUserNotFound) {
			return nil
		}
		return err
	}
	if err := o.applyEach(storeCtx, op, contract, providers, remove); err != nil {
		return nil, err
	}

	o.publish(storeCtx, contract, op)
	return o.refresh(ctx, contract)
}

// applyEach runs one store update per address. Failures do not stop the
// batch and applied updates are kept.
func (o *WorkflowOrchestrator) applyEach(ctx context.Context, op string, contract common.Address, addrs []common.Address, apply func(ctx context.Context, user, project common.Address) error) error {
	var (
		succeeded []common.Address
		failed    []domain.AddressFailure
	)
	for _, a := range addrs {
		if err := apply(ctx, a, contract); err != nil {
			log.Printf("[workflow] store update failed op=%s contract=%s user=%s err=%v", op, contract.Hex(), a.Hex(), err)
			failed = append(failed, domain.AddressFailure{Address: a, Err: err})
			continue
		}
		succeeded = append(succeeded, a)
	}
	if len(failed) == 0 {
		return nil
	}

	o.schedule(ctx, domain.RepairMembership, contract, nil)
	return &domain.PartiallyAppliedError{
		Operation: op,
		Project:   contract,
		Succeeded: succeeded,
		Failed:    failed,
		Err:       failed[0].Err,
	}
}

// SetMainDocument records the canonical DPP or DGD. The owner defaults to the signer.
func (o *WorkflowOrchestrator) SetMainDocument(ctx context.Context, contract, signer common.Address, kind ledger.MainDocumentType, doc ledger.Document) (view *domain.ProjectView, err error) {
	op := "set" + kind.String()
	defer func() { o.metrics.observe(op, err) }()

	if doc.Id == "" {
		return nil, fmt.Errorf("%w: document id required", domain.ErrInvalidProject)
	}
	if ledger.IsZeroAddress(doc.Owner) {
		doc.Owner = signer
	}
	if _, err := o.authorize(ctx, op, contract, signer, domain.RoleProjectManager); err != nil {
		return nil, err
	}

	if _, err := o.gw.Project(contract).SetMainDocument(ctx, signer, kind, doc); err != nil {
		return nil, err
	}

	o.publish(ctx, contract, op)
	return o.refresh(ctx, contract)
}

// SendMainDocument opens one document contract per request in a single ledger write.
func (o *WorkflowOrchestrator) SendMainDocument(ctx context.Context, contract, signer common.Address, kind ledger.MainDocumentType, requests []AssessmentRequest) (view *domain.ProjectView, err error) {
	op := "send" + kind.String()
	defer func() { o.metrics.observe(op, err) }()

	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: at least one assessment provider required", domain.ErrInvalidProject)
	}
	batch := make([]ledger.DocumentContractRequest, len(requests))
	for i, r := range requests {
		if ledger.IsZeroAddress(r.AssessmentProvider) {
			return nil, fmt.Errorf("%w: assessment provider required", domain.ErrInvalidProject)
		}
		if r.AssessmentDueDate.Unix() <= 0 {
			return nil, fmt.Errorf("%w: assessment due date required for %s", domain.ErrInvalidProject, r.AssessmentProvider.Hex())
		}
		batch[i] = ledger.NewDocumentContractRequest(r.AssessmentProvider, r.Attachments, r.AssessmentDueDate)
	}
	if _, err := o.authorize(ctx, op, contract, signer, domain.RoleProjectManager); err != nil {
		return nil, err
	}

	if _, err := o.gw.Project(contract).SendMainDocument(ctx, signer, kind, batch); err != nil {
		return nil, err
	}

	o.publish(ctx, contract, op)
	return o.refresh(ctx, contract)
}

// ChangeAdministrativeAuthority moves the authority role to next. The current
// holder loses the project from their index before the ledger write unless
// another role still ties them to it.
func (o *WorkflowOrchestrator) ChangeAdministrativeAuthority(ctx context.Context, contract, signer, next common.Address) (view *domain.ProjectView, err error) {
	const op = "changeAdministrativeAuthority"
	defer func() { o.metrics.observe(op, err) }()

	if ledger.IsZeroAddress(next) {
		return nil, fmt.Errorf("%w: administrative authority required", domain.ErrInvalidProject)
	}
	m, err := o.authorize(ctx, op, contract, signer, domain.RoleProjectManager)
	if err != nil {
		return nil, err
	}
	if _, err := resolveParty(ctx, o.users, next, domain.RoleAdministrativeAuthority); err != nil {
		return nil, err
	}

	current := m.Authority
	removed := false
	if current != nil && *current != next && *current != m.Manager && !slices.Contains(m.Providers, *current) {
		err := o.members.RemoveProjectAddress(ctx, *current, contract)
		if err != nil && !errors.Is(err, userdomain.ErrUserNotFound) {
			return nil, fmt.Errorf("remove %s from project index: %w", current.Hex(), err)
		}
		removed = true
	}

	if _, err := o.gw.Project(contract).ChangeAdministrativeAuthority(ctx, signer, next); err != nil {
		if removed {
			// the old holder is still on the ledger but already gone from the index
			o.schedule(context.WithoutCancel(ctx), domain.RepairMembership, contract, nil)
		}
		return nil, err
	}

	storeCtx, cancel := o.afterConfirm(ctx)
	defer cancel()
	if err := o.members.AddProjectAddress(storeCtx, next, contract); err != nil {
		o.schedule(storeCtx, domain.RepairMembership, contract, nil)
		pe := &domain.PartiallyAppliedError{
			Operation: op,
			Project:   contract,
			Failed:    []domain.AddressFailure{{Address: next, Err: err}},
			Err:       err,
		}
		if removed {
			pe.Succeeded = []common.Address{*current}
		}
		return nil, pe
	}

	o.publish(storeCtx, contract, op)
	return o.refresh(ctx, contract)
}

// FinalizeDPPPhase closes the conditions phase on the ledger, then advances
// the cached project state.
func (o *WorkflowOrchestrator) FinalizeDPPPhase(ctx context.Context, contract, signer common.Address) (view *domain.ProjectView, err error) {
	const op = "finalizeDPPPhase"
	defer func() { o.metrics.observe(op, err) }()

	if _, err := o.authorize(ctx, op, contract, signer, domain.RoleProjectManager); err != nil {
		return nil, err
	}

	if _, err := o.gw.Project(contract).FinalizeDPPPhase(ctx, signer); err != nil {
		o.scheduleUnconfirmed(ctx, err, domain.RepairPhase, contract)
		return nil, err
	}

	storeCtx, cancel := o.afterConfirm(ctx)
	defer cancel()
	advanced, err := o.projects.AdvanceState(storeCtx, contract, domain.StateConditions, domain.StateOpinions)
	if err != nil {
		o.schedule(storeCtx, domain.RepairPhase, contract, nil)
		return nil, &domain.PartiallyAppliedError{Operation: op, Project: contract, Err: err}
	}
	if !advanced {
		log.Printf("[workflow] project state already past conditions contract=%s", contract.Hex())
	}

	o.publish(storeCtx, contract, op)
	return o.refresh(ctx, contract)
}

// EvaluateAssessmentDueDateExtension accepts or rejects a pending extension request.
func (o *WorkflowOrchestrator) EvaluateAssessmentDueDateExtension(ctx context.Context, document, signer common.Address, confirmed bool) (dc *domain.DocumentContract, err error) {
	const op = "evaluateAssessmentDueDateExtension"
	defer func() { o.metrics.observe(op, err) }()

	if _, err := o.gw.Document(document).EvaluateAssessmentDueDateExtension(ctx, signer, confirmed); err != nil {
		return nil, err
	}
	return o.refreshDocument(ctx, document)
}

func (o *WorkflowOrchestrator) RequestAssessmentDueDateExtension(ctx context.Context, document, signer common.Address, dueDate time.Time) (dc *domain.DocumentContract, err error) {
	const op = "requestAssessmentDueDateExtension"
	defer func() { o.metrics.observe(op, err) }()

	if dueDate.IsZero() {
		return nil, fmt.Errorf("%w: due date required", domain.ErrInvalidProject)
	}
	if _, err := o.gw.Document(document).RequestAssessmentDueDateExtension(ctx, signer, dueDate); err != nil {
		return nil, err
	}
	return o.refreshDocument(ctx, document)
}

func (o *WorkflowOrchestrator) RequestMainDocumentUpdate(ctx context.Context, document, signer common.Address) (dc *domain.DocumentContract, err error) {
	const op = "requestMainDocumentUpdate"
	defer func() { o.metrics.observe(op, err) }()

	if _, err := o.gw.Document(document).RequestMainDocumentUpdate(ctx, signer); err != nil {
		return nil, err
	}
	return o.refreshDocument(ctx, document)
}

// ProvideAssessment submits the provider's assessment, which closes the document contract.
func (o *WorkflowOrchestrator) ProvideAssessment(ctx context.Context, document, signer common.Address, main ledger.Document, attachments []ledger.Document) (dc *domain.DocumentContract, err error) {
	const op = "provideAssessment"
	defer func() { o.metrics.observe(op, err) }()

	if main.Id == "" {
		return nil, fmt.Errorf("%w: assessment document required", domain.ErrInvalidProject)
	}
	if ledger.IsZeroAddress(main.Owner) {
		main.Owner = signer
	}
	if _, err := o.gw.Document(document).ProvideAssessment(ctx, signer, main, attachments); err != nil {
		return nil, err
	}
	return o.refreshDocument(ctx, document)
}

// authorize checks the store knows the project and that signer holds one of
// allowed on the ledger.
func (o *WorkflowOrchestrator) authorize(ctx context.Context, op string, contract, signer common.Address, allowed ...domain.Role) (domain.Membership, error) {
	if _, err := o.projects.GetByContractAddress(ctx, contract); err != nil {
		return domain.Membership{}, err
	}
	m, err := ReadMembership(ctx, o.gw.Project(contract))
	if err != nil {
		return domain.Membership{}, err
	}
	role := m.RoleOf(signer)
	if !permits(role, allowed) {
		return domain.Membership{}, &ledger.UnauthorizedError{
			Method: op,
			Signer: signer,
			Reason: fmt.Sprintf("%s cannot %s on this project", role, op),
		}
	}
	return m, nil
}

func permits(role domain.Role, allowed []domain.Role) bool {
	switch role {
	case domain.RoleProjectManager, domain.RoleAssessmentProvider, domain.RoleAdministrativeAuthority:
		return slices.Contains(allowed, role)
	case domain.RoleNone:
		return false
	default:
		return false
	}
}

func validateAddresses(addrs []common.Address) error {
	if len(addrs) == 0 {
		return fmt.Errorf("%w: at least one address required", domain.ErrInvalidProject)
	}
	seen := make(map[common.Address]bool, len(addrs))
	for _, a := range addrs {
		if ledger.IsZeroAddress(a) {
			return fmt.Errorf("%w: zero address", domain.ErrInvalidProject)
		}
		if seen[a] {
			return fmt.Errorf("%w: duplicate address %s", domain.ErrInvalidProject, a.Hex())
		}
		seen[a] = true
	}
	return nil
}

// afterConfirm detaches store work from caller cancellation. The ledger
// write it follows is already final.
func (o *WorkflowOrchestrator) afterConfirm(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.storeTimeout)
}

func (o *WorkflowOrchestrator) schedule(ctx context.Context, kind domain.RepairKind, contract common.Address, orphan *domain.Project) {
	if err := o.repair.Schedule(ctx, kind, contract, orphan); err != nil {
		log.Printf("[workflow] schedule repair failed kind=%s contract=%s err=%v", kind, contract.Hex(), err)
	}
}

// scheduleUnconfirmed queues a repair when the write's outcome is unknown,
// either because the receipt wait timed out or the caller went away.
func (o *WorkflowOrchestrator) scheduleUnconfirmed(ctx context.Context, err error, kind domain.RepairKind, contract common.Address) {
	var te *ledger.TransactionError
	if errors.As(err, &te) && te.Unconfirmed() {
		o.schedule(context.WithoutCancel(ctx), kind, contract, nil)
	}
}

func (o *WorkflowOrchestrator) publish(ctx context.Context, contract common.Address, op string) {
	if err := o.events.Publish(ctx, contract, op); err != nil {
		log.Printf("[workflow] publish failed op=%s contract=%s err=%v", op, contract.Hex(), err)
	}
}

func (o *WorkflowOrchestrator) refresh(ctx context.Context, contract common.Address) (*domain.ProjectView, error) {
	v, err := o.builder.BuildByContract(ctx, contract)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRefreshFailed, err)
	}
	return v, nil
}

func (o *WorkflowOrchestrator) refreshDocument(ctx context.Context, document common.Address) (*domain.DocumentContract, error) {
	dc, err := o.docs.Project(ctx, document)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRefreshFailed, err)
	}
	return dc, nil
}
