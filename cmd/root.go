package cmd

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/occumatch/internal/audit"
	"github.com/spigell/occumatch/internal/decision"
	"github.com/spigell/occumatch/internal/skills"
)

const (
	app       = "occumatch"
	envPrefix = "OCCUMATCH"
)

type Config struct {
	Taxonomy    string `mapstructure:"taxonomy"`
	Postings    string `mapstructure:"postings"`
	Vectors     string `mapstructure:"vectors"`
	ExcludeFile string `mapstructure:"exclude-file"`

	Rules           []string `mapstructure:"rules"`
	ValidationRules []string `mapstructure:"validation-rules"`
	SkillMappings   []string `mapstructure:"skill-mappings"`

	Workers int `mapstructure:"workers"`
	Limit   int `mapstructure:"limit"`

	Retrieval *RetrievalConfig `mapstructure:"retrieval"`
	Decision  decision.Config  `mapstructure:"decision"`
	Skills    skills.Config    `mapstructure:"skills"`
	Store     *StoreConfig     `mapstructure:"store"`
	AI        *AIConfig        `mapstructure:"ai"`
	Audit     *AuditConfig     `mapstructure:"audit"`
}

type RetrievalConfig struct {
	TopK         int           `mapstructure:"top-k"`
	ModelTimeout time.Duration `mapstructure:"model-timeout"`
	// Reranker is one of gemini, overlap or none.
	Reranker string `mapstructure:"reranker"`
}

type StoreConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type AIConfig struct {
	// Embedder is gemini or hash.
	Embedder string        `mapstructure:"embedder"`
	HashDim  int           `mapstructure:"hash-dim"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey            string `mapstructure:"api-key"`
	APIKeyFile        string `mapstructure:"api-key-file"`
	Model             string `mapstructure:"model"`
	EmbeddingModel    string `mapstructure:"embedding-model"`
	MaxRetries        int    `mapstructure:"max-retries"`
	MaxLogLength      int    `mapstructure:"max-log-length"`
	RequestsPerMinute int    `mapstructure:"requests-per-minute"`
}

type AuditConfig struct {
	Auditor audit.AuditorConfig `mapstructure:"auditor"`
	Miner   audit.MinerConfig   `mapstructure:"miner"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "occumatch maps job postings to taxonomy occupations and skills and keeps the results clean",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	setDefaults()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is occumatch.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	dec := decision.DefaultConfig()
	auditor := audit.DefaultAuditorConfig()
	miner := audit.DefaultMinerConfig()

	viper.SetDefault("workers", 4)
	viper.SetDefault("limit", 0)

	viper.SetDefault("retrieval.top-k", 10)
	viper.SetDefault("retrieval.model-timeout", 30*time.Second)
	viper.SetDefault("retrieval.reranker", rerankerOverlap)

	viper.SetDefault("decision.min-similarity", dec.MinSimilarity)
	viper.SetDefault("decision.low-confidence", dec.LowConfidence)
	viper.SetDefault("decision.high-confidence", dec.HighConfidence)
	viper.SetDefault("decision.agreement-boost", dec.AgreementBoost)
	viper.SetDefault("decision.rule-prior", dec.RulePrior)
	viper.SetDefault("decision.disagreement-penalty", dec.DisagreementPenalty)

	viper.SetDefault("skills.min-similarity", 0.6)
	viper.SetDefault("skills.top-k", 3)

	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("store.dsn", "occumatch.db")

	viper.SetDefault("ai.embedder", embedderHash)
	viper.SetDefault("ai.hash-dim", 256)
	viper.SetDefault("ai.gemini.max-retries", 3)
	viper.SetDefault("ai.gemini.max-log-length", 2000)
	viper.SetDefault("ai.gemini.requests-per-minute", 60)

	viper.SetDefault("audit.auditor.min-firings", auditor.MinFirings)
	viper.SetDefault("audit.auditor.low-agreement", auditor.LowAgreement)
	viper.SetDefault("audit.auditor.high-agreement", auditor.HighAgreement)
	viper.SetDefault("audit.auditor.high-semantic", auditor.HighSemantic)
	viper.SetDefault("audit.miner.min-cluster-size", miner.MinClusterSize)
	viper.SetDefault("audit.miner.max-examples", miner.MaxExamples)
	viper.SetDefault("audit.miner.business-rule-codes", miner.BusinessRuleCodes)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// A missing default config is fine, everything has a default or a flag.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
