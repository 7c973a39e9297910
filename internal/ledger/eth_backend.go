package ledger

import (
	"context"
	"crypto/ecdsa"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"
)

//go:embed abi/project.json
var projectABIJSON string

//go:embed abi/document_contract.json
var documentContractABIJSON string

const receiptPollInterval = time.Second

// EthConfig configures the JSON-RPC backend.
type EthConfig struct {
	RPCURL string
	// SignerKeys are hex-encoded secp256k1 private keys, one per party the service signs for.
	SignerKeys []string
	// ArtifactPath points at a compiled contract artifact ({"abi": ..., "bytecode": "0x..."})
	// holding the project contract creation code. Deployment is disabled when empty.
	ArtifactPath      string
	RequestsPerSecond float64
	Burst             int
}

// EthBackend talks to an Ethereum-compatible node over JSON-RPC.
type EthBackend struct {
	client   *ethclient.Client
	chainID  *big.Int
	abis     map[ContractKind]abi.ABI
	bytecode []byte
	limiter  *rate.Limiter

	mu      sync.Mutex
	signers map[common.Address]*signer
}

type signer struct {
	key *ecdsa.PrivateKey
	// serializes nonce assignment per account
	mu sync.Mutex
}

type artifact struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode string          `json:"bytecode"`
}

func DialEth(ctx context.Context, cfg EthConfig) (*EthBackend, error) {
	projectABI, err := abi.JSON(strings.NewReader(projectABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse project abi: %w", err)
	}
	docABI, err := abi.JSON(strings.NewReader(documentContractABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse document contract abi: %w", err)
	}

	b := &EthBackend{
		abis: map[ContractKind]abi.ABI{
			KindProject:          projectABI,
			KindDocumentContract: docABI,
		},
		signers: make(map[common.Address]*signer),
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	for _, hexKey := range cfg.SignerKeys {
		if err := b.AddSigner(hexKey); err != nil {
			return nil, err
		}
	}

	if cfg.ArtifactPath != "" {
		code, err := loadBytecode(cfg.ArtifactPath)
		if err != nil {
			return nil, err
		}
		b.bytecode = code
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger node: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	b.client = client
	b.chainID = chainID

	log.Printf("[ledger] connected rpc=%s chain_id=%s signers=%d", cfg.RPCURL, chainID, len(b.signers))
	return b, nil
}

func loadBytecode(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract artifact: %w", err)
	}
	var a artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("parse contract artifact: %w", err)
	}
	code, err := hexutil.Decode(a.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("decode contract bytecode: %w", err)
	}
	if len(code) == 0 {
		return nil, errors.New("contract artifact has empty bytecode")
	}
	return code, nil
}

// AddSigner registers a private key the backend may sign with.
func (b *EthBackend) AddSigner(hexKey string) error {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return fmt.Errorf("parse signer key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.signers[addr] = &signer{key: key}
	return nil
}

func (b *EthBackend) signerFor(addr common.Address) *signer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signers[addr]
}

func (b *EthBackend) Close() {
	if b.client != nil {
		b.client.Close()
	}
}

// Ping checks the node is reachable.
func (b *EthBackend) Ping(ctx context.Context) error {
	_, err := b.client.BlockNumber(ctx)
	return err
}

func (b *EthBackend) Call(ctx context.Context, kind ContractKind, contract common.Address, method string, args ...any) ([]any, error) {
	contractABI := b.abis[kind]
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	output, err := b.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return nil, err
	}
	if len(output) == 0 {
		return nil, &ReadError{Method: method, Contract: contract, Err: errors.New("no contract code at address")}
	}

	values, err := contractABI.Unpack(method, output)
	if err != nil {
		return nil, &CorruptDataError{Field: method, Value: err.Error()}
	}
	return values, nil
}

func (b *EthBackend) Send(ctx context.Context, kind ContractKind, contract, from common.Address, method string, args ...any) (*Receipt, error) {
	contractABI := b.abis[kind]
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return b.transact(ctx, method, from, &contract, input)
}

func (b *EthBackend) Deploy(ctx context.Context, kind ContractKind, from common.Address, args ...any) (*Receipt, error) {
	if kind != KindProject {
		return nil, fmt.Errorf("deploy %s: only project contracts are deployed directly", kind)
	}
	if len(b.bytecode) == 0 {
		return nil, errors.New("deploy: no contract artifact configured")
	}
	ctorArgs, err := b.abis[kind].Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("pack constructor: %w", err)
	}
	input := append(append([]byte{}, b.bytecode...), ctorArgs...)
	return b.transact(ctx, "deploy", from, nil, input)
}

func (b *EthBackend) transact(ctx context.Context, method string, from common.Address, to *common.Address, input []byte) (*Receipt, error) {
	s := b.signerFor(from)
	if s == nil {
		return nil, &UnauthorizedError{Method: method, Signer: from, Reason: "no signing key held for " + from.Hex()}
	}

	tx, err := b.signAndSend(ctx, s, method, from, to, input)
	if err != nil {
		return nil, err
	}

	rc, err := b.waitMined(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if rc.Status != types.ReceiptStatusSuccessful {
		return nil, b.failedReceipt(ctx, method, from, to, input, rc)
	}

	return &Receipt{
		TxHash:          rc.TxHash,
		BlockNumber:     rc.BlockNumber.Uint64(),
		ContractAddress: rc.ContractAddress,
		GasUsed:         rc.GasUsed,
	}, nil
}

func (b *EthBackend) signAndSend(ctx context.Context, s *signer, method string, from common.Address, to *common.Address, input []byte) (*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{From: from, To: to, Data: input}
	gas, err := b.client.EstimateGas(ctx, msg)
	if err != nil {
		// estimation executes the call, so a revert surfaces here before anything is broadcast
		if reason, ok := revertReason(err); ok {
			return nil, Revert(method, from, reason)
		}
		return nil, err
	}

	nonce, err := b.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, err
	}
	tip, err := b.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}
	head, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee, big.NewInt(2)))

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5,
		To:        to,
		Data:      input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(b.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", method, err)
	}
	if err := b.client.SendTransaction(ctx, signed); err != nil {
		if reason, ok := revertReason(err); ok {
			return nil, Revert(method, from, reason)
		}
		return nil, err
	}
	return signed, nil
}

func (b *EthBackend) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		rc, err := b.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return rc, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			log.Printf("[ledger] receipt lookup tx=%s err=%v", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// failedReceipt replays the transaction at its block to recover the revert reason.
func (b *EthBackend) failedReceipt(ctx context.Context, method string, from common.Address, to *common.Address, input []byte, rc *types.Receipt) error {
	_, err := b.client.CallContract(ctx, ethereum.CallMsg{From: from, To: to, Data: input}, rc.BlockNumber)
	if reason, ok := revertReason(err); ok {
		return Revert(method, from, reason)
	}
	return &TransactionError{Method: method, Code: CodeReverted}
}

const revertPrefix = "execution reverted: "

// revertReason extracts a decoded Error(string) payload from a node error.
func revertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var de rpc.DataError
	if errors.As(err, &de) {
		if data, ok := de.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(data); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
			}
		}
	}

	msg := err.Error()
	if i := strings.Index(msg, revertPrefix); i >= 0 {
		return strings.TrimSpace(msg[i+len(revertPrefix):]), true
	}
	return "", false
}
