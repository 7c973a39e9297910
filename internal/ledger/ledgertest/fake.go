// Package ledgertest provides an in-memory ledger.Backend that enforces the
// same role and phase rules as the deployed contracts.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/permitchain/permit-backend/internal/ledger"
)

const (
	RevertOnlyManager   = "Only project manager can call this function."
	RevertOnlyProvider  = "Only assessment provider can call this function."
	RevertOnlyEvaluator = "Only project manager or administrative authority can evaluate."
)

type project struct {
	manager   common.Address
	providers []common.Address
	authority common.Address
	dpp, dgd  ledger.Document
	sent      map[ledger.MainDocumentType][]common.Address
	assessed  map[ledger.MainDocumentType]int
	finalized bool
	created   int64
}

type document struct {
	project         common.Address
	provider        common.Address
	kind            ledger.MainDocumentType
	closed          bool
	dueDate         int64
	requestedDue    int64
	updateRequested bool
	attachments     []ledger.Document
	assessmentMain  ledger.Document
	assessmentAtt   []ledger.Document
	dateProvided    int64
	created         int64
}

type failure struct {
	err   error
	apply bool
}

// Fake is safe for concurrent use.
type Fake struct {
	mu        sync.Mutex
	now       time.Time
	seq       int64
	projects  map[common.Address]*project
	documents map[common.Address]*document
	calls     map[string]int
	failures  map[string][]failure
	overrides map[string][]any
}

func New() *Fake {
	return &Fake{
		now:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		projects:  make(map[common.Address]*project),
		documents: make(map[common.Address]*document),
		calls:     make(map[string]int),
		failures:  make(map[string][]failure),
		overrides: make(map[string][]any),
	}
}

// SetNow fixes the block timestamp used for dateCreated and dateProvided.
func (f *Fake) SetNow(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// FailNext makes the next invocation of method return err without touching state.
func (f *Fake) FailNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], failure{err: err})
}

// FailAfterApply makes the next invocation of method change state and then
// return err, as when confirmation is lost after inclusion.
func (f *Fake) FailAfterApply(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], failure{err: err, apply: true})
}

// Override pins the raw outputs a view method returns for one contract.
func (f *Fake) Override(contract common.Address, method string, out ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[overrideKey(contract, method)] = out
}

// Calls reports how many times method was invoked, reads and writes alike.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func overrideKey(contract common.Address, method string) string {
	return ledger.Key(contract) + "/" + method
}

func (f *Fake) popFailure(method string) (failure, bool) {
	q := f.failures[method]
	if len(q) == 0 {
		return failure{}, false
	}
	f.failures[method] = q[1:]
	return q[0], true
}

func (f *Fake) nextAddress() common.Address {
	f.seq++
	return common.BigToAddress(new(big.Int).Add(big.NewInt(0xC0DE0000), big.NewInt(f.seq)))
}

func (f *Fake) receipt(contract common.Address) *ledger.Receipt {
	return &ledger.Receipt{
		TxHash:          common.BigToHash(big.NewInt(f.seq*1000 + int64(f.calls["_tx"]))),
		BlockNumber:     uint64(f.seq),
		ContractAddress: contract,
		GasUsed:         21000,
	}
}

func (f *Fake) Deploy(ctx context.Context, kind ledger.ContractKind, signer common.Address, args ...any) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls["deploy"]++
	fl, failed := f.popFailure("deploy")
	if failed && !fl.apply {
		return nil, fl.err
	}
	if kind != ledger.KindProject {
		return nil, fmt.Errorf("cannot deploy %s", kind)
	}

	addr := f.nextAddress()
	f.projects[addr] = &project{
		manager:  signer,
		sent:     make(map[ledger.MainDocumentType][]common.Address),
		assessed: make(map[ledger.MainDocumentType]int),
		created:  f.now.Unix(),
	}
	if failed {
		return nil, fl.err
	}
	return f.receipt(addr), nil
}

func (f *Fake) Call(ctx context.Context, kind ledger.ContractKind, contract common.Address, method string, args ...any) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[method]++
	if fl, ok := f.popFailure(method); ok {
		return nil, fl.err
	}
	if out, ok := f.overrides[overrideKey(contract, method)]; ok {
		return out, nil
	}

	switch kind {
	case ledger.KindProject:
		p, ok := f.projects[contract]
		if !ok {
			return nil, fmt.Errorf("no contract code at %s", contract.Hex())
		}
		return f.projectView(p, method)
	case ledger.KindDocumentContract:
		d, ok := f.documents[contract]
		if !ok {
			return nil, fmt.Errorf("no contract code at %s", contract.Hex())
		}
		return documentView(d, method)
	}
	return nil, fmt.Errorf("unknown contract kind %s", kind)
}

func (f *Fake) projectView(p *project, method string) ([]any, error) {
	switch method {
	case "projectManager":
		return []any{p.manager}, nil
	case "getAssessmentProvidersAddresses":
		return []any{append([]common.Address{}, p.providers...)}, nil
	case "numOfAssessmentProviders":
		return []any{big.NewInt(int64(len(p.providers)))}, nil
	case "administrativeAuthority":
		return []any{p.authority}, nil
	case "DPP":
		return []any{p.dpp.Id, p.dpp.Owner, p.dpp.DocumentHash}, nil
	case "DGD":
		return []any{p.dgd.Id, p.dgd.Owner, p.dgd.DocumentHash}, nil
	case "getSentDPPsAddresses":
		return []any{append([]common.Address{}, p.sent[ledger.DPP]...)}, nil
	case "getSentDGDsAddresses":
		return []any{append([]common.Address{}, p.sent[ledger.DGD]...)}, nil
	case "getSentDPPsLength":
		return []any{big.NewInt(int64(len(p.sent[ledger.DPP])))}, nil
	case "getSentDGDsLength":
		return []any{big.NewInt(int64(len(p.sent[ledger.DGD])))}, nil
	case "numOfAssessedDPPs":
		return []any{big.NewInt(int64(p.assessed[ledger.DPP]))}, nil
	case "numOfAssessedDGDs":
		return []any{big.NewInt(int64(p.assessed[ledger.DGD]))}, nil
	case "isDPPPhaseFinalized":
		return []any{p.finalized}, nil
	case "dateCreated":
		return []any{big.NewInt(p.created)}, nil
	}
	return nil, fmt.Errorf("project has no method %q", method)
}

func documentView(d *document, method string) ([]any, error) {
	switch method {
	case "assessmentProvider":
		return []any{d.provider}, nil
	case "isClosed":
		return []any{d.closed}, nil
	case "assessmentDueDate":
		return []any{big.NewInt(d.dueDate)}, nil
	case "requestedAssessmentDueDate":
		return []any{big.NewInt(d.requestedDue)}, nil
	case "mainDocumentUpdateRequested":
		return []any{d.updateRequested}, nil
	case "getAttachments":
		return []any{append([]ledger.Document{}, d.attachments...)}, nil
	case "getAssessmentAttachments":
		return []any{append([]ledger.Document{}, d.assessmentAtt...)}, nil
	case "assessment":
		return []any{d.assessmentMain, big.NewInt(d.dateProvided)}, nil
	case "mainDocumentType":
		return []any{uint8(d.kind)}, nil
	case "dateCreated":
		return []any{big.NewInt(d.created)}, nil
	}
	return nil, fmt.Errorf("document contract has no method %q", method)
}

func (f *Fake) Send(ctx context.Context, kind ledger.ContractKind, contract, signer common.Address, method string, args ...any) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[method]++
	f.calls["_tx"]++
	fl, failed := f.popFailure(method)
	if failed && !fl.apply {
		return nil, fl.err
	}

	var reason string
	var err error
	switch kind {
	case ledger.KindProject:
		p, ok := f.projects[contract]
		if !ok {
			return nil, fmt.Errorf("no contract code at %s", contract.Hex())
		}
		reason, err = f.applyProject(p, contract, signer, method, args)
	case ledger.KindDocumentContract:
		d, ok := f.documents[contract]
		if !ok {
			return nil, fmt.Errorf("no contract code at %s", contract.Hex())
		}
		reason, err = f.applyDocument(d, signer, method, args)
	default:
		err = fmt.Errorf("unknown contract kind %s", kind)
	}
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return nil, ledger.Revert(method, signer, reason)
	}
	if failed {
		return nil, fl.err
	}
	f.seq++
	return f.receipt(common.Address{}), nil
}

func (f *Fake) applyProject(p *project, contract, signer common.Address, method string, args []any) (string, error) {
	if signer != p.manager {
		return RevertOnlyManager, nil
	}

	switch method {
	case "setDPP", "setDGD":
		doc, err := arg[ledger.Document](method, args, 0)
		if err != nil {
			return "", err
		}
		if method == "setDPP" {
			if p.finalized {
				return "DPP phase is finalized", nil
			}
			p.dpp = doc
		} else {
			if !p.finalized {
				return "DPP phase is not finalized", nil
			}
			p.dgd = doc
		}

	case "sendDPP", "sendDGD":
		reqs, err := arg[[]ledger.DocumentContractRequest](method, args, 0)
		if err != nil {
			return "", err
		}
		kind := ledger.DPP
		main := p.dpp
		if method == "sendDGD" {
			kind, main = ledger.DGD, p.dgd
			if !p.finalized {
				return "DPP phase is not finalized", nil
			}
		} else if p.finalized {
			return "DPP phase is finalized", nil
		}
		if main.Id == "" {
			return kind.String() + " is not set", nil
		}
		for _, r := range reqs {
			if indexOf(p.providers, r.AssessmentProvider) < 0 {
				return "Assessment provider is not registered", nil
			}
			if r.AssessmentDueDate == nil || r.AssessmentDueDate.Int64() <= f.now.Unix() {
				return "Assessment due date must be in the future", nil
			}
		}
		for _, r := range reqs {
			addr := f.nextAddress()
			f.documents[addr] = &document{
				project:     contract,
				provider:    r.AssessmentProvider,
				kind:        kind,
				dueDate:     r.AssessmentDueDate.Int64(),
				attachments: append([]ledger.Document{}, r.Attachments...),
				created:     f.now.Unix(),
			}
			p.sent[kind] = append(p.sent[kind], addr)
		}

	case "addAssessmentProviders":
		list, err := arg[[]common.Address](method, args, 0)
		if err != nil {
			return "", err
		}
		for i, a := range list {
			if indexOf(p.providers, a) >= 0 || indexOf(list[:i], a) >= 0 {
				return "Assessment provider already added", nil
			}
		}
		p.providers = append(p.providers, list...)

	case "removeAssessmentProviders":
		list, err := arg[[]common.Address](method, args, 0)
		if err != nil {
			return "", err
		}
		for _, a := range list {
			if indexOf(p.providers, a) < 0 {
				return "Assessment provider not found", nil
			}
		}
		kept := p.providers[:0:0]
		for _, a := range p.providers {
			if indexOf(list, a) < 0 {
				kept = append(kept, a)
			}
		}
		p.providers = kept

	case "changeAdministrativeAuthority":
		a, err := arg[common.Address](method, args, 0)
		if err != nil {
			return "", err
		}
		p.authority = a

	case "finalizeDPPPhase":
		if p.finalized {
			return "DPP phase already finalized", nil
		}
		p.finalized = true

	default:
		return "", fmt.Errorf("project has no method %q", method)
	}
	return "", nil
}

func (f *Fake) applyDocument(d *document, signer common.Address, method string, args []any) (string, error) {
	p := f.projects[d.project]

	switch method {
	case "requestAssessmentDueDateExtension":
		if signer != d.provider {
			return RevertOnlyProvider, nil
		}
		if d.closed {
			return "Document contract is closed", nil
		}
		due, err := arg[*big.Int](method, args, 0)
		if err != nil {
			return "", err
		}
		if due.Int64() <= d.dueDate {
			return "Requested due date must be after the current due date", nil
		}
		d.requestedDue = due.Int64()

	case "evaluateAssessmentDueDateExtension":
		if p == nil || (signer != p.manager && signer != p.authority) {
			return RevertOnlyEvaluator, nil
		}
		if d.requestedDue == 0 {
			return "No due date extension requested", nil
		}
		confirmed, err := arg[bool](method, args, 0)
		if err != nil {
			return "", err
		}
		if confirmed {
			d.dueDate = d.requestedDue
		}
		d.requestedDue = 0

	case "requestMainDocumentUpdate":
		if signer != d.provider {
			return RevertOnlyProvider, nil
		}
		if d.closed {
			return "Document contract is closed", nil
		}
		d.updateRequested = true

	case "provideAssessment":
		if signer != d.provider {
			return RevertOnlyProvider, nil
		}
		if d.closed {
			return "Document contract is closed", nil
		}
		main, err := arg[ledger.Document](method, args, 0)
		if err != nil {
			return "", err
		}
		atts, err := arg[[]ledger.Document](method, args, 1)
		if err != nil {
			return "", err
		}
		d.assessmentMain = main
		d.assessmentAtt = append([]ledger.Document{}, atts...)
		d.dateProvided = f.now.Unix()
		d.closed = true
		if p != nil {
			p.assessed[d.kind]++
		}

	default:
		return "", fmt.Errorf("document contract has no method %q", method)
	}
	return "", nil
}

func arg[T any](method string, args []any, i int) (T, error) {
	var zero T
	if i >= len(args) {
		return zero, fmt.Errorf("%s: missing argument %d", method, i)
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, fmt.Errorf("%s: argument %d has type %T", method, i, args[i])
	}
	return v, nil
}

func indexOf(list []common.Address, a common.Address) int {
	for i, x := range list {
		if x == a {
			return i
		}
	}
	return -1
}
