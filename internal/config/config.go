package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Source     SourceConfig     `yaml:"source" mapstructure:"source"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Cycle      CycleConfig      `yaml:"cycle" mapstructure:"cycle"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SourceConfig selects where the run snapshot is read from.
type SourceConfig struct {
	// Driver is one of store, csv, xlsx, salesforce.
	Driver string `yaml:"driver" mapstructure:"driver"`
	// Path is the CSV directory or XLSX workbook for offline sources.
	Path string `yaml:"path" mapstructure:"path"`
}

// SalesforceConfig holds Salesforce JWT auth settings. MaxAttempts bounds
// tries per query; 1 disables retries.
type SalesforceConfig struct {
	ClientID    string  `yaml:"client_id" mapstructure:"client_id"`
	Username    string  `yaml:"username" mapstructure:"username"`
	KeyPath     string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL    string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// MilestoneConfig declares one named milestone and the document types that reach it.
type MilestoneConfig struct {
	Name      string   `yaml:"name" mapstructure:"name"`
	DocTypes  []string `yaml:"doc_types" mapstructure:"doc_types"`
	Primary   bool     `yaml:"primary" mapstructure:"primary"`
	Secondary bool     `yaml:"secondary" mapstructure:"secondary"`
}

// CycleConfig holds the tags and attribute names the correlation engine reads.
type CycleConfig struct {
	PrimaryStageType      string            `yaml:"primary_stage_type" mapstructure:"primary_stage_type"`
	SecondaryStageType    string            `yaml:"secondary_stage_type" mapstructure:"secondary_stage_type"`
	ProductOfInterest     string            `yaml:"product_of_interest" mapstructure:"product_of_interest"`
	DocumentationDocType  string            `yaml:"documentation_doc_type" mapstructure:"documentation_doc_type"`
	DocumentationTypeAttr string            `yaml:"documentation_type_attr" mapstructure:"documentation_type_attr"`
	ApprovalKind          string            `yaml:"approval_kind" mapstructure:"approval_kind"`
	InterestDocType       string            `yaml:"interest_doc_type" mapstructure:"interest_doc_type"`
	InterestAttr          string            `yaml:"interest_attr" mapstructure:"interest_attr"`
	NegativeValues        []string          `yaml:"negative_values" mapstructure:"negative_values"`
	AbsentMeansInterested bool              `yaml:"absent_means_interested" mapstructure:"absent_means_interested"`
	ReferenceDocType      string            `yaml:"reference_doc_type" mapstructure:"reference_doc_type"`
	ReferenceAttr         string            `yaml:"reference_attr" mapstructure:"reference_attr"`
	DesignDocType         string            `yaml:"design_doc_type" mapstructure:"design_doc_type"`
	DesignSizeAttr        string            `yaml:"design_size_attr" mapstructure:"design_size_attr"`
	TerminationDocName    string            `yaml:"termination_doc_name" mapstructure:"termination_doc_name"`
	VisitServiceTag       string            `yaml:"visit_service_tag" mapstructure:"visit_service_tag"`
	AssigneeAttr          string            `yaml:"assignee_attr" mapstructure:"assignee_attr"`
	PriorStateKey         string            `yaml:"prior_state_key" mapstructure:"prior_state_key"`
	Milestones            []MilestoneConfig `yaml:"milestones" mapstructure:"milestones"`
}

// BatchConfig configures partitioned processing.
type BatchConfig struct {
	MaxConcurrentOwners int `yaml:"max_concurrent_owners" mapstructure:"max_concurrent_owners"`
}

// ReportConfig configures report output.
type ReportConfig struct {
	Format   string `yaml:"format" mapstructure:"format"`
	Output   string `yaml:"output" mapstructure:"output"`
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SALESCYCLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "salescycle.db")
	v.SetDefault("source.driver", "store")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 5.0)
	v.SetDefault("salesforce.max_attempts", 3)
	v.SetDefault("cycle.primary_stage_type", "sales")
	v.SetDefault("cycle.secondary_stage_type", "delivery")
	v.SetDefault("cycle.product_of_interest", "solar")
	v.SetDefault("cycle.documentation_doc_type", "documentation")
	v.SetDefault("cycle.documentation_type_attr", "type")
	v.SetDefault("cycle.approval_kind", "document_approval")
	v.SetDefault("cycle.interest_doc_type", "interest")
	v.SetDefault("cycle.interest_attr", "customerInterested")
	v.SetDefault("cycle.negative_values", []string{"no", "nao"})
	v.SetDefault("cycle.absent_means_interested", true)
	v.SetDefault("cycle.reference_doc_type", "signing")
	v.SetDefault("cycle.reference_attr", "proposalCode")
	v.SetDefault("cycle.design_doc_type", "design")
	v.SetDefault("cycle.design_size_attr", "size")
	v.SetDefault("cycle.termination_doc_name", "termination")
	v.SetDefault("cycle.visit_service_tag", "site_visit")
	v.SetDefault("cycle.assignee_attr", "assignee")
	v.SetDefault("cycle.prior_state_key", "entity")
	v.SetDefault("batch.max_concurrent_owners", 8)
	v.SetDefault("report.format", "csv")
	v.SetDefault("report.output", "cycles.csv")
	v.SetDefault("report.timezone", "UTC")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
