package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitchain/permit-backend/internal/users/domain"
)

var (
	wallet  = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	project = common.HexToAddress("0x00000000000000000000000000000000000000F1")
)

func newMock(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewUserRepository(db), mock
}

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "wallet_address", "name", "email", "phone", "street_address", "user_type", "project_addresses"})
}

func TestFindByAddress(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(`SELECT .* FROM users\s+WHERE wallet_address = \$1`).
		WithArgs("0x00000000000000000000000000000000000000a1").
		WillReturnRows(userRows().AddRow("u-1", "0x00000000000000000000000000000000000000a1", "Ana", "ana@example.com", "", "", "PROJECT_MANAGER",
			"{0x00000000000000000000000000000000000000f1}"))

	u, err := repo.FindByAddress(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.ID)
	assert.Equal(t, wallet, u.WalletAddress)
	assert.Equal(t, domain.ProjectManager, u.UserType)
	assert.True(t, u.HasProject(project))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByAddress_UnknownUserType(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(`SELECT .* FROM users`).
		WillReturnRows(userRows().AddRow("u-1", "0x00000000000000000000000000000000000000a1", "Ana", "ana@example.com", "", "", "ROOT", "{}"))

	_, err := repo.FindByAddress(context.Background(), wallet)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUserNotFound)
	assert.Contains(t, err.Error(), `unknown user type "ROOT"`)
}

func TestFindByAddress_NotFound(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(`SELECT .* FROM users`).WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByAddress(context.Background(), wallet)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestCreate(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(sqlmock.AnyArg(), "0x00000000000000000000000000000000000000a1", "Ana", "ana@example.com", "", "", "ASSESSMENT_PROVIDER").
		WillReturnResult(sqlmock.NewResult(0, 1))

	u, err := repo.Create(context.Background(), domain.User{
		WalletAddress: wallet,
		Name:          "Ana",
		Email:         " Ana@Example.com",
		UserType:      domain.AssessmentProvider,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Empty(t, u.ProjectAddresses)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_Validation(t *testing.T) {
	repo, _ := newMock(t)

	_, err := repo.Create(context.Background(), domain.User{UserType: domain.Investor})
	assert.Error(t, err)

	_, err = repo.Create(context.Background(), domain.User{WalletAddress: wallet, UserType: "ROOT"})
	assert.Error(t, err)
}

func TestMembership(t *testing.T) {
	repo, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE users\s+SET project_addresses = CASE`).
		WithArgs("0x00000000000000000000000000000000000000a1", "0x00000000000000000000000000000000000000f1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`array_remove`).
		WithArgs("0x00000000000000000000000000000000000000a1", "0x00000000000000000000000000000000000000f1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`array_remove`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.AddProjectAddress(ctx, wallet, project))
	require.NoError(t, repo.RemoveProjectAddress(ctx, wallet, project))
	assert.ErrorIs(t, repo.RemoveProjectAddress(ctx, wallet, project), domain.ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByProjectAddress(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(`WHERE \$1 = ANY\(project_addresses\)`).
		WithArgs("0x00000000000000000000000000000000000000f1").
		WillReturnRows(userRows().
			AddRow("u-1", "0x00000000000000000000000000000000000000a1", "Ana", "a@x", "", "", "PROJECT_MANAGER", "{0x00000000000000000000000000000000000000f1}").
			AddRow("u-2", "0x00000000000000000000000000000000000000b2", "Ben", "b@x", "", "", "ASSESSMENT_PROVIDER", "{0x00000000000000000000000000000000000000f1}"))

	users, err := repo.ListByProjectAddress(context.Background(), project)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u-2", users[1].ID)
}
