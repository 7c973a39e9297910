package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DocumentContract is one assessment request sent to one assessment provider.
type DocumentContract struct {
	g       *Gateway
	address common.Address
}

func (d *DocumentContract) Address() common.Address { return d.address }

func (d *DocumentContract) read(ctx context.Context, method string) (any, error) {
	out, err := d.g.call(ctx, KindDocumentContract, d.address, method)
	if err != nil {
		return nil, err
	}
	return single(method, out)
}

func (d *DocumentContract) AssessmentProvider(ctx context.Context) (common.Address, error) {
	v, err := d.read(ctx, "assessmentProvider")
	if err != nil {
		return common.Address{}, err
	}
	a, err := toAddress("assessmentProvider", v)
	if err != nil {
		return common.Address{}, err
	}
	if IsZeroAddress(a) {
		return common.Address{}, &CorruptDataError{Field: "assessmentProvider", Value: a.Hex()}
	}
	return a, nil
}

func (d *DocumentContract) IsClosed(ctx context.Context) (bool, error) {
	v, err := d.read(ctx, "isClosed")
	if err != nil {
		return false, err
	}
	return toBool("isClosed", v)
}

// AssessmentDueDate is nil when the contract carries no due date.
func (d *DocumentContract) AssessmentDueDate(ctx context.Context) (*time.Time, error) {
	v, err := d.read(ctx, "assessmentDueDate")
	if err != nil {
		return nil, err
	}
	return toOptionalTime("assessmentDueDate", v)
}

// RequestedAssessmentDueDate is nil unless an extension request is pending.
func (d *DocumentContract) RequestedAssessmentDueDate(ctx context.Context) (*time.Time, error) {
	v, err := d.read(ctx, "requestedAssessmentDueDate")
	if err != nil {
		return nil, err
	}
	return toOptionalTime("requestedAssessmentDueDate", v)
}

func (d *DocumentContract) MainDocumentUpdateRequested(ctx context.Context) (bool, error) {
	v, err := d.read(ctx, "mainDocumentUpdateRequested")
	if err != nil {
		return false, err
	}
	return toBool("mainDocumentUpdateRequested", v)
}

// Attachments returns the attachment identifiers in ledger order.
func (d *DocumentContract) Attachments(ctx context.Context) ([]string, error) {
	v, err := d.read(ctx, "getAttachments")
	if err != nil {
		return nil, err
	}
	docs, err := toDocuments("getAttachments", v)
	if err != nil {
		return nil, err
	}
	return documentIDs(docs), nil
}

func (d *DocumentContract) AssessmentAttachments(ctx context.Context) ([]string, error) {
	v, err := d.read(ctx, "getAssessmentAttachments")
	if err != nil {
		return nil, err
	}
	docs, err := toDocuments("getAssessmentAttachments", v)
	if err != nil {
		return nil, err
	}
	return documentIDs(docs), nil
}

// Assessment reads the assessment sub-record; DateProvided is nil until the provider submits.
func (d *DocumentContract) Assessment(ctx context.Context) (Assessment, error) {
	out, err := d.g.call(ctx, KindDocumentContract, d.address, "assessment")
	if err != nil {
		return Assessment{}, err
	}
	if len(out) != 2 {
		return Assessment{}, &CorruptDataError{Field: "assessment", Value: len(out)}
	}

	main, err := toDocument("assessment.assessmentMainDocument", out[0])
	if err != nil {
		return Assessment{}, err
	}
	provided, err := toOptionalTime("assessment.dateProvided", out[1])
	if err != nil {
		return Assessment{}, err
	}
	return Assessment{MainDocument: main.Id, DateProvided: provided}, nil
}

func (d *DocumentContract) MainDocumentType(ctx context.Context) (MainDocumentType, error) {
	v, err := d.read(ctx, "mainDocumentType")
	if err != nil {
		return 0, err
	}
	return toMainDocumentType("mainDocumentType", v)
}

func (d *DocumentContract) DateCreated(ctx context.Context) (time.Time, error) {
	v, err := d.read(ctx, "dateCreated")
	if err != nil {
		return time.Time{}, err
	}
	return toTime("dateCreated", v)
}

func (d *DocumentContract) RequestAssessmentDueDateExtension(ctx context.Context, signer common.Address, dueDate time.Time) (*Receipt, error) {
	return d.g.send(ctx, KindDocumentContract, d.address, signer, "requestAssessmentDueDateExtension", big.NewInt(dueDate.Unix()))
}

func (d *DocumentContract) EvaluateAssessmentDueDateExtension(ctx context.Context, signer common.Address, confirmed bool) (*Receipt, error) {
	return d.g.send(ctx, KindDocumentContract, d.address, signer, "evaluateAssessmentDueDateExtension", confirmed)
}

func (d *DocumentContract) RequestMainDocumentUpdate(ctx context.Context, signer common.Address) (*Receipt, error) {
	return d.g.send(ctx, KindDocumentContract, d.address, signer, "requestMainDocumentUpdate")
}

// ProvideAssessment submits the final assessment; the ledger closes the contract on success.
func (d *DocumentContract) ProvideAssessment(ctx context.Context, signer common.Address, mainDocument Document, attachments []Document) (*Receipt, error) {
	if attachments == nil {
		attachments = []Document{}
	}
	return d.g.send(ctx, KindDocumentContract, d.address, signer, "provideAssessment", mainDocument, attachments)
}
