package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/projects/domain"
	"github.com/permitchain/permit-backend/internal/projects/utils"
)

const idPrefix = "permit"

// ProjectRepository provides persistence operations for projects and their investors.
type ProjectRepository struct {
	db *sql.DB
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `id, name, description, construction_title, construction_type,
construction_impacts_environment, project_state, smart_contract_address, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*domain.Project, error) {
	var (
		p        domain.Project
		state    string
		contract string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.ConstructionTitle, &p.ConstructionType,
		&p.ConstructionImpactsEnvironment, &state, &contract, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ProjectState = domain.ProjectState(state)
	p.SmartContractAddress = common.HexToAddress(contract)
	return &p, nil
}

func addressKeys(addrs []common.Address) []string {
	keys := make([]string, len(addrs))
	for i, a := range addrs {
		keys[i] = ledger.Key(a)
	}
	return keys
}

// Create inserts the project row and its investors in one transaction. A
// fresh public id is generated when p.ID is empty.
func (r *ProjectRepository) Create(ctx context.Context, p domain.Project) (*domain.Project, error) {
	if ledger.IsZeroAddress(p.SmartContractAddress) {
		return nil, fmt.Errorf("smart contract address required")
	}
	if p.ProjectState == "" {
		p.ProjectState = domain.StateConditions
	}

	generate := p.ID == ""
	for i := 0; i < 5; i++ {
		if generate {
			id, err := utils.NewTextID(idPrefix)
			if err != nil {
				return nil, err
			}
			p.ID = id
		}

		created, inserted, err := r.insert(ctx, p)
		if err != nil {
			var pgErr *pq.Error
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return nil, domain.ErrAlreadyExists
			}
			return nil, err
		}
		if inserted {
			return created, nil
		}
		// public id collision → retry
		if !generate {
			return nil, domain.ErrAlreadyExists
		}
	}

	return nil, fmt.Errorf("failed to generate unique project id")
}

// Restore inserts a project that already exists on the ledger. It is a no-op
// when a row for the contract is present.
func (r *ProjectRepository) Restore(ctx context.Context, p domain.Project) (bool, error) {
	if _, err := r.GetByContractAddress(ctx, p.SmartContractAddress); err == nil {
		return false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}

	_, err := r.Create(ctx, p)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return false, nil
	}
	return err == nil, err
}

func (r *ProjectRepository) insert(ctx context.Context, p domain.Project) (*domain.Project, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	q := `
INSERT INTO projects (id, name, description, construction_title, construction_type,
    construction_impacts_environment, project_state, smart_contract_address, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (id) DO NOTHING
RETURNING ` + projectColumns + `;
`
	created, err := scanProject(tx.QueryRowContext(ctx, q, p.ID, p.Name, p.Description, p.ConstructionTitle,
		p.ConstructionType, p.ConstructionImpactsEnvironment, string(p.ProjectState),
		ledger.Key(p.SmartContractAddress), p.CreatedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	const iq = `
INSERT INTO investors (id, project_id, name, street_address, email, phone, tax_id)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	created.Investors = make([]domain.Investor, 0, len(p.Investors))
	for _, inv := range p.Investors {
		if inv.ID == "" {
			inv.ID = uuid.NewString()
		}
		inv.ProjectID = created.ID
		if _, err := tx.ExecContext(ctx, iq, inv.ID, inv.ProjectID, inv.Name, inv.StreetAddress, inv.Email, inv.Phone, inv.TaxID); err != nil {
			return nil, false, fmt.Errorf("insert investor: %w", err)
		}
		created.Investors = append(created.Investors, inv)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// GetByID returns the project with its investors.
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	q := `
SELECT ` + projectColumns + `
FROM projects
WHERE id = $1;
`
	p, err := scanProject(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	investors, err := NewInvestorRepository(r.db).ListByProject(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Investors = investors
	return p, nil
}

func (r *ProjectRepository) GetByContractAddress(ctx context.Context, contract common.Address) (*domain.Project, error) {
	q := `
SELECT ` + projectColumns + `
FROM projects
WHERE smart_contract_address = $1;
`
	p, err := scanProject(r.db.QueryRowContext(ctx, q, ledger.Key(contract)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListByContractAddresses returns the projects for the given contracts, newest first.
func (r *ProjectRepository) ListByContractAddresses(ctx context.Context, contracts []common.Address) ([]domain.Project, error) {
	q := `
SELECT ` + projectColumns + `
FROM projects
WHERE smart_contract_address = ANY($1)
ORDER BY created_at DESC;
`
	return r.list(ctx, q, pq.Array(addressKeys(contracts)))
}

// ListRecent returns the projects among ids that belong to one of contracts.
func (r *ProjectRepository) ListRecent(ctx context.Context, ids []string, contracts []common.Address) ([]domain.Project, error) {
	q := `
SELECT ` + projectColumns + `
FROM projects
WHERE id = ANY($1) AND smart_contract_address = ANY($2)
ORDER BY created_at DESC;
`
	return r.list(ctx, q, pq.Array(ids), pq.Array(addressKeys(contracts)))
}

// ListRecentByState returns up to limit newest projects in state among contracts.
func (r *ProjectRepository) ListRecentByState(ctx context.Context, state domain.ProjectState, contracts []common.Address, limit int) ([]domain.Project, error) {
	q := `
SELECT ` + projectColumns + `
FROM projects
WHERE project_state = $1 AND smart_contract_address = ANY($2)
ORDER BY created_at DESC
LIMIT $3;
`
	return r.list(ctx, q, string(state), pq.Array(addressKeys(contracts)), limit)
}

// ListContractAddresses pages through every known project contract.
func (r *ProjectRepository) ListContractAddresses(ctx context.Context, after common.Address, limit int) ([]common.Address, error) {
	const q = `
SELECT smart_contract_address
FROM projects
WHERE smart_contract_address > $1
ORDER BY smart_contract_address
LIMIT $2;
`
	rows, err := r.db.QueryContext(ctx, q, ledger.Key(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.Address, 0, limit)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, common.HexToAddress(s))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ProjectRepository) list(ctx context.Context, q string, args ...any) ([]domain.Project, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Project, 0, 16)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateDetails rewrites the store-owned fields while the project is still
// acquiring conditions.
func (r *ProjectRepository) UpdateDetails(ctx context.Context, id string, d domain.ProjectDetails) (*domain.Project, error) {
	q := `
UPDATE projects
SET name = $2, description = $3, construction_title = $4, construction_type = $5,
    construction_impacts_environment = $6, updated_at = now()
WHERE id = $1 AND project_state = $7
RETURNING ` + projectColumns + `;
`
	p, err := scanProject(r.db.QueryRowContext(ctx, q, id, d.Name, d.Description, d.ConstructionTitle,
		d.ConstructionType, d.ConstructionImpactsEnvironment, string(domain.StateConditions)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPhaseClosed
		}
		return nil, err
	}
	return p, nil
}

// AdvanceState moves the project from one phase to the next. It reports
// false when the row was not in the expected phase.
func (r *ProjectRepository) AdvanceState(ctx context.Context, contract common.Address, from, to domain.ProjectState) (bool, error) {
	const q = `
UPDATE projects
SET project_state = $3, updated_at = $4
WHERE smart_contract_address = $1 AND project_state = $2;
`
	res, err := r.db.ExecContext(ctx, q, ledger.Key(contract), string(from), string(to), time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
