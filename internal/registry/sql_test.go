package registry

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leaplineage/internal/config"
	"github.com/leapstack-labs/leaplineage/pkg/core"
)

func newMockConnector(t *testing.T, kind string) (*SQLConnector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	conn, err := NewSQLConnector(db, config.SourceConfig{ID: "pg_app", Type: kind, Catalog: "app"}, nil)
	require.NoError(t, err)
	return conn, mock
}

func TestSQLConnector_Assets(t *testing.T) {
	conn, mock := newMockConnector(t, config.SourcePostgres)

	mock.ExpectQuery(`FROM information_schema\.tables`).WillReturnRows(
		sqlmock.NewRows([]string{"table_schema", "table_name", "table_type"}).
			AddRow("public", "users", "BASE TABLE").
			AddRow("public", "orders", "BASE TABLE").
			AddRow("reporting", "v_orders", "VIEW"))
	mock.ExpectQuery(`FROM information_schema\.columns`).WillReturnRows(
		sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "data_type", "is_nullable"}).
			AddRow("public", "orders", "id", "integer", "NO").
			AddRow("public", "orders", "user_id", "integer", "YES").
			AddRow("public", "users", "id", "integer", "NO").
			AddRow("public", "users", "email", "text", "YES").
			AddRow("reporting", "v_orders", "id", "integer", "YES"))
	mock.ExpectQuery(`FROM information_schema\.table_constraints`).WillReturnRows(
		sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "constraint_type"}).
			AddRow("public", "orders", "id", "PRIMARY KEY").
			AddRow("public", "users", "id", "PRIMARY KEY").
			AddRow("public", "users", "email", "UNIQUE"))
	mock.ExpectQuery(`FROM information_schema\.referential_constraints`).WillReturnRows(
		sqlmock.NewRows([]string{"s", "t", "c", "rs", "rt", "rc"}).
			AddRow("public", "orders", "user_id", "public", "users", "id"))

	assets, err := conn.Assets(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, assets, 3)

	orders := assets[0]
	assert.Equal(t, "app.public.orders", orders.ID)
	assert.Equal(t, "orders", orders.Name)
	assert.Equal(t, "app", orders.Catalog)
	assert.Equal(t, core.AssetTable, orders.Type)
	require.Len(t, orders.Columns, 2)
	assert.True(t, orders.Columns[0].PrimaryKey)
	assert.Equal(t, core.ModeRequired, orders.Columns[0].Mode)
	assert.Equal(t, core.ModeNullable, orders.Columns[1].Mode)
	assert.Equal(t, []core.ForeignKey{{Column: "user_id", RefAsset: "app.public.users", RefColumn: "id"}}, orders.ForeignKeys)

	users := assets[1]
	assert.True(t, users.Columns[1].Unique)

	assert.Equal(t, core.AssetView, assets[2].Type)
	assert.Empty(t, assets[2].SQL, "view bodies are fetched lazily")
}

func TestSQLConnector_FetchSQL(t *testing.T) {
	conn, mock := newMockConnector(t, config.SourcePostgres)
	view := core.Asset{ID: "app.reporting.v_orders", Type: core.AssetView}

	mock.ExpectQuery(`FROM information_schema\.views`).
		WithArgs("reporting", "v_orders").
		WillReturnRows(sqlmock.NewRows([]string{"view_definition"}).AddRow("SELECT id FROM public.orders"))

	got, err := conn.FetchSQL(context.Background(), view)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM public.orders", got)

	mock.ExpectQuery(`FROM information_schema\.views`).
		WithArgs("reporting", "v_gone").
		WillReturnRows(sqlmock.NewRows([]string{"view_definition"}))

	got, err = conn.FetchSQL(context.Background(), core.Asset{ID: "app.reporting.v_gone", Type: core.AssetView})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = conn.FetchSQL(context.Background(), core.Asset{ID: "app.public.orders", Type: core.AssetTable, SQL: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", got, "tables never query")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLConnector_MySQLForeignKeys(t *testing.T) {
	conn, mock := newMockConnector(t, config.SourceMySQL)

	mock.ExpectQuery(`FROM information_schema\.tables`).WillReturnRows(
		sqlmock.NewRows([]string{"table_schema", "table_name", "table_type"}).
			AddRow("shop", "orders", "BASE TABLE"))
	mock.ExpectQuery(`FROM information_schema\.columns`).WillReturnRows(
		sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "data_type", "is_nullable"}).
			AddRow("shop", "orders", "customer_id", "int", "NO"))
	mock.ExpectQuery(`FROM information_schema\.table_constraints`).WillReturnRows(
		sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "constraint_type"}))
	mock.ExpectQuery(`referenced_table_name IS NOT NULL`).WillReturnRows(
		sqlmock.NewRows([]string{"s", "t", "c", "rs", "rt", "rc"}).
			AddRow("shop", "orders", "customer_id", "shop", "customers", "id"))

	assets, err := conn.Assets(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "app.shop.customers", assets[0].ForeignKeys[0].RefAsset)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLConnector_QueryFailure(t *testing.T) {
	conn, mock := newMockConnector(t, config.SourceSQLServer)
	mock.ExpectQuery(`FROM information_schema\.tables`).WillReturnError(assert.AnError)

	_, err := conn.Assets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list tables")
}

func TestNewSQLConnector_UnknownType(t *testing.T) {
	_, err := NewSQLConnector(nil, config.SourceConfig{ID: "x", Type: "oracle"}, nil)
	var unknown *core.UnknownBackendError
	assert.ErrorAs(t, err, &unknown)
}
