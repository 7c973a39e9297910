package service

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/projects/domain"
	userdomain "github.com/permitchain/permit-backend/internal/users/domain"
)

const maxConcurrentDocuments = 8

// DocumentURLs maps a ledger document identifier to a link.
type DocumentURLs func(id string) string

// PrefixURLs joins identifiers onto base. An empty base returns identifiers unchanged.
func PrefixURLs(base string) DocumentURLs {
	base = strings.TrimRight(base, "/")
	return func(id string) string {
		if base == "" || id == "" {
			return id
		}
		return base + "/" + id
	}
}

// DocumentProjector assembles DocumentContract snapshots from the ledger.
type DocumentProjector struct {
	gw    *ledger.Gateway
	users UserDirectory
	urls  DocumentURLs
}

func NewDocumentProjector(gw *ledger.Gateway, users UserDirectory, urls DocumentURLs) *DocumentProjector {
	if urls == nil {
		urls = PrefixURLs("")
	}
	return &DocumentProjector{gw: gw, users: users, urls: urls}
}

// Project reads every field of one document contract. It returns a snapshot
// only when all reads succeed.
func (p *DocumentProjector) Project(ctx context.Context, address common.Address) (*domain.DocumentContract, error) {
	dc := p.gw.Document(address)
	out := domain.DocumentContract{Address: address}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a, err := dc.AssessmentProvider(gctx)
		if err != nil {
			return err
		}
		u, err := resolveParty(gctx, p.users, a, domain.RoleAssessmentProvider)
		if err != nil {
			return err
		}
		out.AssessmentProvider = *u
		return nil
	})
	g.Go(func() (err error) {
		out.IsClosed, err = dc.IsClosed(gctx)
		return err
	})
	g.Go(func() (err error) {
		out.AssessmentDueDate, err = dc.AssessmentDueDate(gctx)
		return err
	})
	g.Go(func() (err error) {
		out.RequestedAssessmentDueDate, err = dc.RequestedAssessmentDueDate(gctx)
		return err
	})
	g.Go(func() (err error) {
		out.MainDocumentUpdateRequested, err = dc.MainDocumentUpdateRequested(gctx)
		return err
	})
	g.Go(func() error {
		ids, err := dc.Attachments(gctx)
		if err != nil {
			return err
		}
		out.Attachments = p.mapURLs(ids)
		return nil
	})
	g.Go(func() error {
		ids, err := dc.AssessmentAttachments(gctx)
		if err != nil {
			return err
		}
		out.AssessmentAttachments = p.mapURLs(ids)
		return nil
	})
	g.Go(func() error {
		a, err := dc.Assessment(gctx)
		if err != nil {
			return err
		}
		out.AssessmentMainDocument = p.urls(a.MainDocument)
		out.AssessmentDateProvided = a.DateProvided
		return nil
	})
	g.Go(func() (err error) {
		out.MainDocumentType, err = dc.MainDocumentType(gctx)
		return err
	})
	g.Go(func() (err error) {
		out.DateCreated, err = dc.DateCreated(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProjectAll snapshots addresses concurrently, preserving their order.
func (p *DocumentProjector) ProjectAll(ctx context.Context, addresses []common.Address) ([]domain.DocumentContract, error) {
	out := make([]domain.DocumentContract, len(addresses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDocuments)
	for i, a := range addresses {
		g.Go(func() error {
			dc, err := p.Project(gctx, a)
			if err != nil {
				return err
			}
			out[i] = *dc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *DocumentProjector) mapURLs(ids []string) []string {
	urls := make([]string, len(ids))
	for i, id := range ids {
		urls[i] = p.urls(id)
	}
	return urls
}

// resolveParty looks up a ledger-referenced address that must be known to the store.
func resolveParty(ctx context.Context, users UserDirectory, a common.Address, role domain.Role) (*userdomain.User, error) {
	u, err := users.FindByAddress(ctx, a)
	if err != nil {
		if errors.Is(err, userdomain.ErrUserNotFound) {
			return nil, &domain.UnknownPartyError{Address: a, Role: role}
		}
		return nil, err
	}
	return u, nil
}
