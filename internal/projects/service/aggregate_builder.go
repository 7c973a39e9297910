package service

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/projects/domain"
	userdomain "github.com/permitchain/permit-backend/internal/users/domain"
)

// AggregateBuilder composes ProjectViews from the store record and live ledger reads.
type AggregateBuilder struct {
	gw       *ledger.Gateway
	projects ProjectStore
	users    UserDirectory
	docs     *DocumentProjector
	urls     DocumentURLs
}

func NewAggregateBuilder(gw *ledger.Gateway, projects ProjectStore, users UserDirectory, docs *DocumentProjector, urls DocumentURLs) *AggregateBuilder {
	if urls == nil {
		urls = PrefixURLs("")
	}
	return &AggregateBuilder{gw: gw, projects: projects, users: users, docs: docs, urls: urls}
}

// Build returns the aggregate for a project id, or domain.ErrNotFound.
func (b *AggregateBuilder) Build(ctx context.Context, id string) (*domain.ProjectView, error) {
	p, err := b.projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return b.compose(ctx, p)
}

// BuildByContract is Build keyed by the project's contract address.
func (b *AggregateBuilder) BuildByContract(ctx context.Context, contract common.Address) (*domain.ProjectView, error) {
	p, err := b.projects.GetByContractAddress(ctx, contract)
	if err != nil {
		return nil, err
	}
	return b.compose(ctx, p)
}

// BuildFor is Build with the viewer's role and their document contracts attached.
func (b *AggregateBuilder) BuildFor(ctx context.Context, id string, viewer common.Address) (*domain.ProjectView, error) {
	v, err := b.Build(ctx, id)
	if err != nil {
		return nil, err
	}
	v.Viewer = viewerOf(v, viewer)
	return v, nil
}

func viewerOf(v *domain.ProjectView, viewer common.Address) *domain.Viewer {
	m := domain.Membership{Manager: v.ProjectManager.WalletAddress}
	for _, p := range v.AssessmentProviders {
		m.Providers = append(m.Providers, p.WalletAddress)
	}
	if v.AdministrativeAuthority != nil {
		a := v.AdministrativeAuthority.WalletAddress
		m.Authority = &a
	}

	out := &domain.Viewer{Address: viewer, Role: m.RoleOf(viewer)}
	for _, group := range [][]domain.DocumentContract{v.SentDPPs, v.SentDGDs} {
		for _, dc := range group {
			if dc.AssessmentProvider.WalletAddress == viewer {
				out.DocumentContracts = append(out.DocumentContracts, dc.Address)
			}
		}
	}
	return out
}

func (b *AggregateBuilder) compose(ctx context.Context, p *domain.Project) (*domain.ProjectView, error) {
	pc := b.gw.Project(p.SmartContractAddress)
	v := &domain.ProjectView{Project: *p}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a, err := pc.ProjectManager(gctx)
		if err != nil {
			return err
		}
		u, err := resolveParty(gctx, b.users, a, domain.RoleProjectManager)
		if err != nil {
			return err
		}
		v.ProjectManager = *u
		return nil
	})
	g.Go(func() error {
		addrs, err := pc.AssessmentProviders(gctx)
		if err != nil {
			return err
		}
		v.AssessmentProviders, err = b.resolveKnown(gctx, addrs)
		return err
	})
	g.Go(func() (err error) {
		v.NumOfAssessmentProviders, err = pc.NumOfAssessmentProviders(gctx)
		return err
	})
	g.Go(func() error {
		a, err := pc.AdministrativeAuthority(gctx)
		if err != nil || a == nil {
			return err
		}
		v.AdministrativeAuthority, err = resolveParty(gctx, b.users, *a, domain.RoleAdministrativeAuthority)
		return err
	})
	g.Go(func() (err error) {
		v.DPP, err = b.mainDocument(gctx, pc, ledger.DPP)
		return err
	})
	g.Go(func() (err error) {
		v.DGD, err = b.mainDocument(gctx, pc, ledger.DGD)
		return err
	})
	g.Go(func() error {
		addrs, err := pc.SentDocumentContracts(gctx, ledger.DPP)
		if err != nil {
			return err
		}
		v.SentDPPs, err = b.docs.ProjectAll(gctx, addrs)
		return err
	})
	g.Go(func() error {
		addrs, err := pc.SentDocumentContracts(gctx, ledger.DGD)
		if err != nil {
			return err
		}
		v.SentDGDs, err = b.docs.ProjectAll(gctx, addrs)
		return err
	})
	g.Go(func() (err error) {
		v.NumOfSentDPPs, err = pc.NumOfSent(gctx, ledger.DPP)
		return err
	})
	g.Go(func() (err error) {
		v.NumOfSentDGDs, err = pc.NumOfSent(gctx, ledger.DGD)
		return err
	})
	g.Go(func() (err error) {
		v.NumOfAssessedDPPs, err = pc.NumOfAssessed(gctx, ledger.DPP)
		return err
	})
	g.Go(func() (err error) {
		v.NumOfAssessedDGDs, err = pc.NumOfAssessed(gctx, ledger.DGD)
		return err
	})
	g.Go(func() (err error) {
		v.IsDPPPhaseFinalized, err = pc.IsDPPPhaseFinalized(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return v, nil
}

// resolveKnown resolves addresses in order, skipping ones the store does not know yet.
func (b *AggregateBuilder) resolveKnown(ctx context.Context, addrs []common.Address) ([]userdomain.User, error) {
	out := make([]userdomain.User, 0, len(addrs))
	for _, a := range addrs {
		u, err := b.users.FindByAddress(ctx, a)
		if errors.Is(err, userdomain.ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, nil
}

func (b *AggregateBuilder) mainDocument(ctx context.Context, pc *ledger.ProjectContract, kind ledger.MainDocumentType) (*domain.MainDocument, error) {
	doc, err := pc.MainDocument(ctx, kind)
	if err != nil || doc == nil {
		return nil, err
	}
	return &domain.MainDocument{
		ID:           doc.Id,
		Owner:        doc.Owner,
		DocumentHash: doc.DocumentHash,
		URL:          b.urls(doc.Id),
	}, nil
}

// ReadMembership reads who holds which role on a project contract.
func ReadMembership(ctx context.Context, pc *ledger.ProjectContract) (domain.Membership, error) {
	var m domain.Membership
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		m.Manager, err = pc.ProjectManager(gctx)
		return err
	})
	g.Go(func() (err error) {
		m.Providers, err = pc.AssessmentProviders(gctx)
		return err
	})
	g.Go(func() (err error) {
		m.Authority, err = pc.AdministrativeAuthority(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Membership{}, err
	}
	return m, nil
}
