package state

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/leaplineage/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStore_Rebind(t *testing.T) {
	pg := NewSQLStore(nil, DialectPostgres)
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := NewSQLStore(nil, DialectSQLite)
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestSQLStore_PostgresUpsertEdges(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := NewSQLStore(db, DialectPostgres)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO edges \(source, target, data\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs("a", "b", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.UpsertEdges(context.Background(), []core.Edge{edge("a", "b", 0.8)}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PostgresApproveMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := NewSQLStore(db, DialectPostgres)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT seq, data FROM proposals .* FOR UPDATE`).
		WithArgs("a", "b", "proposed").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "data"}))
	mock.ExpectRollback()

	_, err = s.ApproveProposal(context.Background(), "a", "b", time.Now())
	var notFound *core.ProposalNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_NotOpened(t *testing.T) {
	s := NewSQLStore(nil, DialectSQLite)
	_, err := s.Edges(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database not opened")
}
