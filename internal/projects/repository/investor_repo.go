package repository

import (
	"context"
	"database/sql"

	"github.com/permitchain/permit-backend/internal/projects/domain"
)

// InvestorRepository reads investor rows; they are written with their project.
type InvestorRepository struct {
	db *sql.DB
}

func NewInvestorRepository(db *sql.DB) *InvestorRepository {
	return &InvestorRepository{db: db}
}

func (r *InvestorRepository) ListByProject(ctx context.Context, projectID string) ([]domain.Investor, error) {
	const q = `
SELECT id, project_id, name, street_address, email, phone, tax_id
FROM investors
WHERE project_id = $1
ORDER BY name;
`
	return r.list(ctx, q, projectID)
}

func (r *InvestorRepository) ListAll(ctx context.Context) ([]domain.Investor, error) {
	const q = `
SELECT id, project_id, name, street_address, email, phone, tax_id
FROM investors
ORDER BY project_id, name;
`
	return r.list(ctx, q)
}

func (r *InvestorRepository) list(ctx context.Context, q string, args ...any) ([]domain.Investor, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Investor, 0, 8)
	for rows.Next() {
		var inv domain.Investor
		if err := rows.Scan(&inv.ID, &inv.ProjectID, &inv.Name, &inv.StreetAddress, &inv.Email, &inv.Phone, &inv.TaxID); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
