package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/salescycle/internal/config"
	"github.com/sells-group/salescycle/internal/store"
	sfpkg "github.com/sells-group/salescycle/pkg/salesforce"
)

// testConfig points cfg at a temp-dir SQLite store and CSV source and resets
// command state when the test ends.
func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg = &config.Config{
		Store:  config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "test.db")},
		Source: config.SourceConfig{Driver: "csv", Path: dir},
		Batch:  config.BatchConfig{MaxConcurrentOwners: 2},
		Report: config.ReportConfig{Format: "csv", Output: filepath.Join(dir, "cycles.csv"), Timezone: "UTC"},
		Log:    config.LogConfig{Level: "info"},
	}

	t.Cleanup(func() {
		cfg = nil
		runSource, runInput, runOutput, runFormat, runPersist = "", "", "", "", false
		exportOutput, exportFormat = "", ""
		syncVerify = true
		openStore = initStore
		openSalesforce = initSalesforce
	})
	return dir
}

func withStore(t *testing.T, st store.Store) {
	t.Helper()
	openStore = func(context.Context) (store.Store, error) { return st, nil }
}

func withSalesforce(c sfpkg.Client) {
	openSalesforce = func() (sfpkg.Client, error) { return c, nil }
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// writeCSVSnapshot writes one correlated cycle: sale p1 and delivery s1.
func writeCSVSnapshot(t *testing.T, dir string) {
	t.Helper()
	writeFile(t, dir, "stages.csv", "id,owner_id,entity_id,type,created_at\n"+
		"p1,o1,e1,sales,2024-01-01 10:00:00\n"+
		"s1,o1,e1,delivery,2024-02-01 10:00:00\n")
	writeFile(t, dir, "documents.csv", "id,stage_instance_id,doc_type,name,status,created_at,type\n"+
		"d1,p1,documentation,,,2024-01-01 10:00:00,solar\n"+
		"d2,s1,signing,,,2024-02-01 10:00:00,\n")
	writeFile(t, dir, "approvals.csv", "doc_id,owner_id,kind,created_at\n"+
		"d2,o1,document_approval,2024-02-03 09:00:00\n")
}

func sfConfigForTest() config.SalesforceConfig {
	return config.SalesforceConfig{
		ClientID: "client",
		Username: "ops@example.com",
		KeyPath:  "/nonexistent/key.pem",
		LoginURL: "https://login.salesforce.com",
	}
}
