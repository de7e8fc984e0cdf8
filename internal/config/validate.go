package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	sourceDrivers  = []string{"store", "csv", "xlsx", "salesforce"}
	storeDrivers   = []string{"sqlite", "postgres"}
	reportFormats  = []string{"csv", "xlsx", "json", "yaml"}
	priorStateKeys = []string{"entity", "contract"}
)

// Validate checks the settings a command mode depends on. Modes: run, sync, store.
func (c *Config) Validate(mode string) error {
	var errs []string

	requireStore := func() {
		if !slices.Contains(storeDrivers, c.Store.Driver) {
			errs = append(errs, fmt.Sprintf("store.driver must be one of %s", strings.Join(storeDrivers, ", ")))
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}
	requireSalesforce := func() {
		if c.Salesforce.ClientID == "" {
			errs = append(errs, "salesforce.client_id is required")
		}
		if c.Salesforce.Username == "" {
			errs = append(errs, "salesforce.username is required")
		}
		if c.Salesforce.KeyPath == "" {
			errs = append(errs, "salesforce.key_path is required")
		}
	}

	switch mode {
	case "run":
		switch c.Source.Driver {
		case "store":
			requireStore()
		case "csv", "xlsx":
			if c.Source.Path == "" {
				errs = append(errs, "source.path is required for "+c.Source.Driver+" sources")
			}
		case "salesforce":
			requireSalesforce()
		default:
			errs = append(errs, fmt.Sprintf("source.driver must be one of %s", strings.Join(sourceDrivers, ", ")))
		}
		if !slices.Contains(reportFormats, c.Report.Format) {
			errs = append(errs, fmt.Sprintf("report.format must be one of %s", strings.Join(reportFormats, ", ")))
		}
		if c.Cycle.PriorStateKey != "" && !slices.Contains(priorStateKeys, c.Cycle.PriorStateKey) {
			errs = append(errs, "cycle.prior_state_key must be entity or contract")
		}
	case "sync":
		requireStore()
		requireSalesforce()
	case "store":
		requireStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Batch.MaxConcurrentOwners < 1 || c.Batch.MaxConcurrentOwners > 64 {
		errs = append(errs, "batch.max_concurrent_owners must be between 1 and 64")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
