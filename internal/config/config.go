// Package config loads pipeline configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Database holds the PharmacoDB load target connection settings.
type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// URL renders the connection settings as a pgx/v5 migrate-compatible URL.
func (d Database) URL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// DSN renders the connection settings as a keyword/value pgx DSN.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// Trials holds the clinicaltrials.gov client settings.
type Trials struct {
	BaseURL     string
	ChunkSize   int
	MaxAttempts int
	Workers     int
}

// Config is the full pipeline configuration.
type Config struct {
	// RawDir holds PSet exports, one {name}_PSet directory per dataset.
	RawDir string
	// ProcDir holds per-dataset tables, one subdirectory per dataset.
	ProcDir string
	// OutputDir receives the final combined tables.
	OutputDir string
	// Datasets lists the PSets included in a run.
	Datasets []string
	// CompoundMetaFile is the canonical compound identifier reference
	// (columns name, compound_uid); csv or xlsx.
	CompoundMetaFile string
	// CellMetaFile, TissueMetaFile and CompoundSynonymFile are the annotation
	// workbooks the synonym tables are melted from; csv or xlsx.
	CellMetaFile    string
	TissueMetaFile  string
	CompoundSynFile string
	// ChEMBLTargetFile, DrugbankTargetFile and UniprotMapFile feed the target
	// tables.
	ChEMBLTargetFile   string
	DrugbankTargetFile string
	UniprotMapFile     string
	// GeneSigDir holds per-dataset gene signature files for the
	// gene_compound_tissue_dataset stage.
	GeneSigDir string
	// Workers bounds the per-PSet build worker pool.
	Workers int

	Database Database
	Trials   Trials
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		RawDir:    "rawdata",
		ProcDir:   "procdata",
		OutputDir: "latest",
		Workers:   4,
		Database: Database{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			DBName:  "pharmacodb",
			SSLMode: "disable",
		},
		Trials: Trials{
			BaseURL:     "https://clinicaltrials.gov/api/query/study_fields",
			ChunkSize:   50,
			MaxAttempts: 3,
			Workers:     4,
		},
	}
}

// Load reads config.yaml from configPath, falling back to defaults plus
// PHARMACODI_-prefixed environment variables when no file is present.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("PHARMACODI")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	setString("pipeline.raw_dir", &cfg.RawDir)
	setString("pipeline.proc_dir", &cfg.ProcDir)
	setString("pipeline.output_dir", &cfg.OutputDir)
	if v.IsSet("pipeline.datasets") {
		cfg.Datasets = v.GetStringSlice("pipeline.datasets")
	}
	setString("pipeline.compound_meta_file", &cfg.CompoundMetaFile)
	setString("pipeline.cell_meta_file", &cfg.CellMetaFile)
	setString("pipeline.tissue_meta_file", &cfg.TissueMetaFile)
	setString("pipeline.compound_synonym_file", &cfg.CompoundSynFile)
	setString("pipeline.chembl_target_file", &cfg.ChEMBLTargetFile)
	setString("pipeline.drugbank_target_file", &cfg.DrugbankTargetFile)
	setString("pipeline.uniprot_map_file", &cfg.UniprotMapFile)
	setString("pipeline.gene_sig_dir", &cfg.GeneSigDir)
	setInt("pipeline.workers", &cfg.Workers)

	setString("database.host", &cfg.Database.Host)
	setInt("database.port", &cfg.Database.Port)
	setString("database.user", &cfg.Database.User)
	setString("database.password", &cfg.Database.Password)
	setString("database.dbname", &cfg.Database.DBName)
	setString("database.sslmode", &cfg.Database.SSLMode)

	setString("trials.base_url", &cfg.Trials.BaseURL)
	setInt("trials.chunk_size", &cfg.Trials.ChunkSize)
	setInt("trials.max_attempts", &cfg.Trials.MaxAttempts)
	setInt("trials.workers", &cfg.Trials.Workers)

	return cfg, nil
}
