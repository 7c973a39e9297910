package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/users/domain"
)

// UserRepository persists users and their project membership index.
// Addresses are stored in lowercase hex.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, wallet_address, name, email, phone, street_address, user_type, project_addresses`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u        domain.User
		wallet   string
		userType string
		projects []string
	)
	if err := row.Scan(&u.ID, &wallet, &u.Name, &u.Email, &u.Phone, &u.StreetAddress, &userType, pq.Array(&projects)); err != nil {
		return nil, err
	}
	t, err := domain.ParseUserType(userType)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", wallet, err)
	}
	u.WalletAddress = common.HexToAddress(wallet)
	u.UserType = t
	u.ProjectAddresses = make([]common.Address, 0, len(projects))
	for _, p := range projects {
		u.ProjectAddresses = append(u.ProjectAddresses, common.HexToAddress(p))
	}
	return &u, nil
}

// FindByAddress resolves a ledger address to a user.
func (r *UserRepository) FindByAddress(ctx context.Context, address common.Address) (*domain.User, error) {
	q := `
SELECT ` + userColumns + `
FROM users
WHERE wallet_address = $1;
`
	u, err := scanUser(r.db.QueryRowContext(ctx, q, ledger.Key(address)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	q := `
SELECT ` + userColumns + `
FROM users
WHERE id = $1;
`
	u, err := scanUser(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// Create registers a user with an empty project index.
func (r *UserRepository) Create(ctx context.Context, u domain.User) (*domain.User, error) {
	if ledger.IsZeroAddress(u.WalletAddress) {
		return nil, fmt.Errorf("wallet address required")
	}
	if _, err := domain.ParseUserType(string(u.UserType)); err != nil {
		return nil, err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = normalizeEmail(u.Email)

	const q = `
INSERT INTO users (id, wallet_address, name, email, phone, street_address, user_type, project_addresses)
VALUES ($1, $2, $3, $4, $5, $6, $7, '{}');
`
	if _, err := r.db.ExecContext(ctx, q, u.ID, ledger.Key(u.WalletAddress), u.Name, u.Email, u.Phone, u.StreetAddress, string(u.UserType)); err != nil {
		return nil, err
	}
	u.ProjectAddresses = []common.Address{}
	return &u, nil
}

// AddProjectAddress appends project to the user's index. Adding an address
// that is already present is a no-op.
func (r *UserRepository) AddProjectAddress(ctx context.Context, user, project common.Address) error {
	const q = `
UPDATE users
SET project_addresses = CASE
    WHEN $2::text = ANY(project_addresses) THEN project_addresses
    ELSE array_append(project_addresses, $2::text)
END
WHERE wallet_address = $1;
`
	return r.execMembership(ctx, q, user, project)
}

// RemoveProjectAddress drops project from the user's index. Removing an
// absent address is a no-op.
func (r *UserRepository) RemoveProjectAddress(ctx context.Context, user, project common.Address) error {
	const q = `
UPDATE users
SET project_addresses = array_remove(project_addresses, $2::text)
WHERE wallet_address = $1;
`
	return r.execMembership(ctx, q, user, project)
}

func (r *UserRepository) execMembership(ctx context.Context, q string, user, project common.Address) error {
	res, err := r.db.ExecContext(ctx, q, ledger.Key(user), ledger.Key(project))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ListByProjectAddress returns every user whose index contains project.
func (r *UserRepository) ListByProjectAddress(ctx context.Context, project common.Address) ([]domain.User, error) {
	q := `
SELECT ` + userColumns + `
FROM users
WHERE $1 = ANY(project_addresses)
ORDER BY wallet_address;
`
	rows, err := r.db.QueryContext(ctx, q, ledger.Key(project))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.User, 0, 8)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
