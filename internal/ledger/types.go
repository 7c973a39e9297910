package ledger

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ContractKind selects which ABI a call is encoded against.
type ContractKind int

const (
	KindProject ContractKind = iota
	KindDocumentContract
)

func (k ContractKind) String() string {
	switch k {
	case KindProject:
		return "project"
	case KindDocumentContract:
		return "document_contract"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MainDocumentType is the kind of main document a document contract requests an assessment of.
// The ledger stores it as a uint8 enum.
type MainDocumentType uint8

const (
	DPP MainDocumentType = 0
	DGD MainDocumentType = 1
)

func (t MainDocumentType) String() string {
	switch t {
	case DPP:
		return "DPP"
	case DGD:
		return "DGD"
	default:
		return fmt.Sprintf("MainDocumentType(%d)", uint8(t))
	}
}

func (t MainDocumentType) MarshalText() ([]byte, error) {
	if t != DPP && t != DGD {
		return nil, &CorruptDataError{Field: "mainDocumentType", Value: uint8(t)}
	}
	return []byte(t.String()), nil
}

func (t *MainDocumentType) UnmarshalText(b []byte) error {
	parsed, err := ParseMainDocumentType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseMainDocumentType(s string) (MainDocumentType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DPP":
		return DPP, nil
	case "DGD":
		return DGD, nil
	default:
		return 0, fmt.Errorf("unknown main document type %q", s)
	}
}

// Document mirrors the contract's Document tuple. Field names follow the ABI
// component names so go-ethereum can pack and unpack it directly.
type Document struct {
	Id           string
	Owner        common.Address
	DocumentHash string
}

// DocumentContractRequest is one element of a sendDPP/sendDGD batch.
type DocumentContractRequest struct {
	AssessmentProvider common.Address
	Attachments        []Document
	AssessmentDueDate  *big.Int
}

// NewDocumentContractRequest encodes the due date as unix seconds.
func NewDocumentContractRequest(provider common.Address, attachments []Document, dueDate time.Time) DocumentContractRequest {
	if attachments == nil {
		attachments = []Document{}
	}
	return DocumentContractRequest{
		AssessmentProvider: provider,
		Attachments:        attachments,
		AssessmentDueDate:  big.NewInt(dueDate.Unix()),
	}
}

// Assessment is the normalized assessment sub-record of a document contract.
type Assessment struct {
	MainDocument string
	DateProvided *time.Time
}

// Receipt is the confirmation of a state-changing call.
type Receipt struct {
	TxHash          common.Hash
	BlockNumber     uint64
	ContractAddress common.Address
	GasUsed         uint64
}

// IsZeroAddress reports whether a is the ledger's "unset" sentinel.
func IsZeroAddress(a common.Address) bool {
	return a == (common.Address{})
}

// ParseAddress accepts a 0x-prefixed hex address and rejects anything else, including the zero address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	a := common.HexToAddress(s)
	if IsZeroAddress(a) {
		return common.Address{}, fmt.Errorf("zero address is not a party")
	}
	return a, nil
}

// Key is the canonical lowercase form used as a store and cache key.
func Key(a common.Address) string {
	return strings.ToLower(a.Hex())
}
