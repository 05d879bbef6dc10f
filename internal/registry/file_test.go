package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leaplineage/internal/config"
	"github.com/leapstack-labs/leaplineage/internal/testutil"
	"github.com/leapstack-labs/leaplineage/pkg/core"
)

const yamlAssets = `
assets:
  - id: sales.raw.orders
    name: orders
    type: table
    columns:
      - name: order_id
        type: INTEGER
        mode: REQUIRED
        primary_key: true
      - name: customer_email
        type: STRING
        tags: [PII]
  - id: sales.analytics.v_orders
    name: v_orders
    type: view
    sql: SELECT order_id FROM sales.raw.orders
`

const jsonAssets = `[
  {"id": "crm.customers", "name": "customers", "type": "Table",
   "columns": [{"name": "id", "type": "INT64"}],
   "discovered_at": "2024-05-01T10:00:00Z"}
]`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestFileConnector_LoadsDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sales.yaml"), yamlAssets)
	writeFile(t, filepath.Join(dir, "nested", "crm.json"), jsonAssets)
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")

	conn, err := OpenFile(dir, testutil.NewTestLogger(t))
	require.NoError(t, err)

	assets, err := conn.Assets(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 3)

	// nested/crm.json sorts before sales.yaml
	assert.Equal(t, "crm.customers", assets[0].ID)
	assert.Equal(t, 2024, assets[0].DiscoveredAt.Year())

	orders := assets[1]
	assert.Equal(t, "sales.raw.orders", orders.ID)
	require.Len(t, orders.Columns, 2)
	assert.True(t, orders.Columns[0].PrimaryKey)
	assert.Equal(t, core.ModeRequired, orders.Columns[0].Mode)
	assert.Equal(t, []string{"PII"}, orders.Columns[1].Tags)

	assert.Equal(t, "SELECT order_id FROM sales.raw.orders", assets[2].SQL)
}

func TestFileConnector_BareYAMLList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.yml")
	writeFile(t, path, "- id: a.t\n  name: t\n- id: a.u\n  name: u\n")

	conn, err := OpenFile(path, nil)
	require.NoError(t, err)
	assets, err := conn.Assets(context.Background())
	require.NoError(t, err)
	assert.Len(t, assets, 2)
}

func TestFileConnector_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenFile(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "assets: [unterminated")
	_, err = OpenFile(bad, nil)
	assert.Error(t, err)

	noID := filepath.Join(dir, "noid.json")
	writeFile(t, noID, `{"assets": [{"name": "orphan"}]}`)
	_, err = OpenFile(noID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no id")
}

func TestFileConnector_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.json")
	writeFile(t, path, jsonAssets)

	conn, err := OpenFile(path, nil)
	require.NoError(t, err)

	writeFile(t, path, "{not json")
	assert.Error(t, conn.Reload())

	assets, err := conn.Assets(context.Background())
	require.NoError(t, err)
	assert.Len(t, assets, 1)
}

func TestCatalog_WatchReloadsFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assets.json")
	writeFile(t, path, jsonAssets)

	catalog := OpenCatalog(context.Background(), []config.SourceConfig{
		{ID: "files", Type: "file", Path: dir, Watch: true},
	}, testutil.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- catalog.Watch(ctx, func(sourceID string) {
			if sourceID == "files" {
				reloads.Add(1)
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, `[{"id": "crm.customers"}, {"id": "crm.accounts"}]`)

	require.Eventually(t, func() bool { return reloads.Load() > 0 }, 5*time.Second, 20*time.Millisecond)

	assets, err := catalog.ListAssets(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, assets, 2)

	cancel()
	assert.NoError(t, <-done)
}
