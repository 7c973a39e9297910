package ledger

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const defaultConfirmTimeout = 2 * time.Minute

// Backend is the raw contract transport. Call returns the decoded outputs of a
// view method; Send and Deploy block until the transaction is included or fails.
//
// Values follow go-ethereum's ABI decoding: uint256 as *big.Int, uint8 as
// uint8, address as common.Address, tuples as structs.
type Backend interface {
	Call(ctx context.Context, kind ContractKind, contract common.Address, method string, args ...any) ([]any, error)
	Send(ctx context.Context, kind ContractKind, contract, signer common.Address, method string, args ...any) (*Receipt, error)
	Deploy(ctx context.Context, kind ContractKind, signer common.Address, args ...any) (*Receipt, error)
}

// Gateway is the typed facade over deployed project and document contracts.
type Gateway struct {
	backend        Backend
	confirmTimeout time.Duration
	metrics        *Metrics
}

type Option func(*Gateway)

// WithConfirmTimeout bounds how long a write waits for inclusion.
func WithConfirmTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.confirmTimeout = d
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func NewGateway(backend Backend, opts ...Option) *Gateway {
	g := &Gateway{
		backend:        backend,
		confirmTimeout: defaultConfirmTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Project binds the gateway to one project contract.
func (g *Gateway) Project(address common.Address) *ProjectContract {
	return &ProjectContract{g: g, address: address}
}

// Document binds the gateway to one document contract.
func (g *Gateway) Document(address common.Address) *DocumentContract {
	return &DocumentContract{g: g, address: address}
}

// DeployProject deploys a new project contract with signer as its project manager.
func (g *Gateway) DeployProject(ctx context.Context, signer common.Address) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.confirmTimeout)
	defer cancel()

	start := time.Now()
	r, err := g.backend.Deploy(ctx, KindProject, signer)
	err = classifyWrite("deploy", err)
	if err == nil && IsZeroAddress(r.ContractAddress) {
		err = &TransactionError{Method: "deploy", Reason: "receipt carries no contract address", Code: CodeReverted}
	}
	g.metrics.observe("deploy", "deploy", err, time.Since(start))
	if err != nil {
		log.Printf("[ledger] deploy failed signer=%s err=%v", signer.Hex(), err)
		return nil, err
	}

	log.Printf("[ledger] deployed project contract=%s signer=%s tx=%s", r.ContractAddress.Hex(), signer.Hex(), r.TxHash.Hex())
	return r, nil
}

func (g *Gateway) call(ctx context.Context, kind ContractKind, contract common.Address, method string, args ...any) ([]any, error) {
	start := time.Now()
	out, err := g.backend.Call(ctx, kind, contract, method, args...)
	if err != nil && !isClassified(err) {
		err = &ReadError{Method: method, Contract: contract, Err: err}
	}
	g.metrics.observe("call", method, err, time.Since(start))
	return out, err
}

func (g *Gateway) send(ctx context.Context, kind ContractKind, contract, signer common.Address, method string, args ...any) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.confirmTimeout)
	defer cancel()

	start := time.Now()
	r, err := g.backend.Send(ctx, kind, contract, signer, method, args...)
	err = classifyWrite(method, err)
	g.metrics.observe("send", method, err, time.Since(start))
	if err != nil {
		log.Printf("[ledger] send failed method=%s contract=%s signer=%s err=%v", method, contract.Hex(), signer.Hex(), err)
		return nil, err
	}

	log.Printf("[ledger] send method=%s contract=%s signer=%s tx=%s block=%d", method, contract.Hex(), signer.Hex(), r.TxHash.Hex(), r.BlockNumber)
	return r, nil
}

// classifyWrite folds whatever the backend returned into the write taxonomy.
func classifyWrite(method string, err error) error {
	if err == nil {
		return nil
	}

	var te *TransactionError
	if errors.As(err, &te) {
		if te.Code == "" {
			te.Code = CodeReverted
		}
		if te.Method == "" {
			te.Method = method
		}
		return te
	}
	if errors.Is(err, ErrUnauthorized) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &TransactionError{Method: method, Code: CodeTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &TransactionError{Method: method, Code: CodeCancelled, Err: err}
	default:
		return &TransactionError{Method: method, Code: CodeRejected, Err: err}
	}
}
