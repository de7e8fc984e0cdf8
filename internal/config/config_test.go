package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "salescycle.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "store", cfg.Source.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Batch.MaxConcurrentOwners)
	assert.Equal(t, "csv", cfg.Report.Format)
	assert.Equal(t, "UTC", cfg.Report.Timezone)
	assert.Equal(t, "https://login.salesforce.com", cfg.Salesforce.LoginURL)
	assert.InDelta(t, 5.0, cfg.Salesforce.RateLimit, 0.001)
	assert.Equal(t, 3, cfg.Salesforce.MaxAttempts)
	assert.Equal(t, "sales", cfg.Cycle.PrimaryStageType)
	assert.Equal(t, "delivery", cfg.Cycle.SecondaryStageType)
	assert.Equal(t, "document_approval", cfg.Cycle.ApprovalKind)
	assert.Equal(t, "customerInterested", cfg.Cycle.InterestAttr)
	assert.Equal(t, []string{"no", "nao"}, cfg.Cycle.NegativeValues)
	assert.True(t, cfg.Cycle.AbsentMeansInterested)
	assert.Equal(t, "entity", cfg.Cycle.PriorStateKey)
	assert.Empty(t, cfg.Cycle.Milestones)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/cycles
log:
  level: debug
  format: console
batch:
  max_concurrent_owners: 2
cycle:
  product_of_interest: battery
  milestones:
    - name: signing
      doc_types: [contract_form, signing]
      primary: true
      secondary: true
    - name: validation
      doc_types: [validation]
      secondary: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 2, cfg.Batch.MaxConcurrentOwners)
	assert.Equal(t, "battery", cfg.Cycle.ProductOfInterest)
	require.Len(t, cfg.Cycle.Milestones, 2)
	assert.Equal(t, "signing", cfg.Cycle.Milestones[0].Name)
	assert.Equal(t, []string{"contract_form", "signing"}, cfg.Cycle.Milestones[0].DocTypes)
	assert.True(t, cfg.Cycle.Milestones[0].Primary)
	assert.False(t, cfg.Cycle.Milestones[1].Primary)
	assert.True(t, cfg.Cycle.Milestones[1].Secondary)
	// Defaults still apply for unset values
	assert.Equal(t, "sales", cfg.Cycle.PrimaryStageType)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("SALESCYCLE_STORE_DRIVER", "postgres")
	t.Setenv("SALESCYCLE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("SALESCYCLE_BATCH_MAX_CONCURRENT_OWNERS", "3")
	t.Setenv("SALESCYCLE_CYCLE_PRIMARY_STAGE_TYPE", "venda")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Batch.MaxConcurrentOwners)
	assert.Equal(t, "venda", cfg.Cycle.PrimaryStageType)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "salescycle.db"
	cfg.Source.Driver = "store"
	cfg.Report.Format = "csv"
	cfg.Batch.MaxConcurrentOwners = 8
	cfg.Cycle.PriorStateKey = "entity"
	return cfg
}

func TestValidateRun_StoreSource(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("run"))

	cfg.Store.DatabaseURL = ""
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateRun_OfflineSourceNeedsPath(t *testing.T) {
	cfg := validDefaults()
	cfg.Source.Driver = "csv"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.path is required for csv sources")

	cfg.Source.Path = "testdata/snapshot"
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateRun_UnknownSourceAndFormat(t *testing.T) {
	cfg := validDefaults()
	cfg.Source.Driver = "ftp"
	cfg.Report.Format = "pdf"
	cfg.Cycle.PriorStateKey = "owner"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.driver must be one of")
	assert.Contains(t, err.Error(), "report.format must be one of")
	assert.Contains(t, err.Error(), "cycle.prior_state_key must be entity or contract")
}

func TestValidateSync_MissingSalesforce(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "salesforce.client_id is required")
	assert.Contains(t, err.Error(), "salesforce.username is required")
	assert.Contains(t, err.Error(), "salesforce.key_path is required")

	cfg.Salesforce.ClientID = "3MVG9"
	cfg.Salesforce.Username = "ops@example.com"
	cfg.Salesforce.KeyPath = "/etc/salescycle/sf.pem"
	assert.NoError(t, cfg.Validate("sync"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.MaxConcurrentOwners = 0
	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_owners must be between 1 and 64")

	cfg.Batch.MaxConcurrentOwners = 65
	err = cfg.Validate("store")
	assert.Error(t, err)

	cfg.Batch.MaxConcurrentOwners = 64
	assert.NoError(t, cfg.Validate("store"))
}
