package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/ai"
	"github.com/spigell/occumatch/internal/ai/gemini"
	"github.com/spigell/occumatch/internal/decision"
	"github.com/spigell/occumatch/internal/embedding"
	"github.com/spigell/occumatch/internal/logger"
	"github.com/spigell/occumatch/internal/pipeline"
	"github.com/spigell/occumatch/internal/posting"
	"github.com/spigell/occumatch/internal/retrieval"
	"github.com/spigell/occumatch/internal/rules"
	"github.com/spigell/occumatch/internal/secrets"
	"github.com/spigell/occumatch/internal/skills"
	"github.com/spigell/occumatch/internal/store"
	"github.com/spigell/occumatch/internal/taxonomy"
)

const (
	embedderHash   = "hash"
	embedderGemini = "gemini"

	rerankerGemini  = "gemini"
	rerankerOverlap = "overlap"
	rerankerNone    = "none"

	driverMemory = "memory"
)

// configSections are the configuration sections a reprocess_with_config
// action may name besides business rule ids.
var configSections = map[string]bool{
	"retrieval": true,
	"decision":  true,
	"skills":    true,
}

// setup carries the logger and config every command starts from.
func setup() (*zap.Logger, *Config) {
	lg, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		lg.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		lg.Fatal("config is required")
	}

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	lg.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	return lg, config
}

func redacted(c *Config) Config {
	out := *c
	if c.AI != nil && c.AI.Gemini != nil && c.AI.Gemini.APIKey != "" {
		aiCfg := *c.AI
		g := *c.AI.Gemini
		g.APIKey = "***"
		aiCfg.Gemini = &g
		out.AI = &aiCfg
	}
	return out
}

func openStore(ctx context.Context, cfg *StoreConfig) (store.Store, error) {
	if cfg == nil {
		return nil, errors.New("store configuration is required")
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Driver), driverMemory) {
		return store.NewMemory(), nil
	}
	return store.Open(ctx, cfg.Driver, cfg.DSN)
}

func loadTaxonomy(config *Config) (*taxonomy.Store, error) {
	if strings.TrimSpace(config.Taxonomy) == "" {
		return nil, errors.New("taxonomy file is not configured (set 'taxonomy')")
	}
	tax, err := taxonomy.LoadFile(config.Taxonomy)
	if err != nil {
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}
	return tax, nil
}

// geminiProvider lazily builds the shared client, limiter and generator.
type geminiProvider struct {
	cfg    *GeminiConfig
	logger *zap.Logger

	gcfg      gemini.Config
	generator *gemini.Generator
	embedder  *gemini.Embedder
}

func newGeminiProvider(ctx context.Context, cfg *GeminiConfig, log *zap.Logger) (*geminiProvider, error) {
	if cfg == nil {
		return nil, errors.New("gemini configuration is required")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.APIKey,
		File:  cfg.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
	}

	client, err := gemini.NewClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	gcfg := gemini.Config{
		APIKey:            apiKey,
		Model:             cfg.Model,
		EmbeddingModel:    cfg.EmbeddingModel,
		MaxRetries:        cfg.MaxRetries,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}
	limiter := gemini.NewLimiter(cfg.RequestsPerMinute)

	genLogger := log.With(zap.Int("ai_retry_attempts", cfg.MaxRetries))
	return &geminiProvider{
		cfg:       cfg,
		logger:    log,
		gcfg:      gcfg,
		generator: gemini.NewGenerator(client, gcfg, limiter, genLogger),
		embedder:  gemini.NewEmbedder(client, gcfg, limiter, genLogger),
	}, nil
}

func (p *geminiProvider) scorer() ai.PairScorer {
	return gemini.NewScorer(p.generator, logger.WithCommonFields(p.logger, gemini.Provider, p.generator.Model()), p.cfg.MaxLogLength)
}

func (p *geminiProvider) reviewer() ai.Reviewer {
	return gemini.NewReviewer(p.generator, logger.WithCommonFields(p.logger, gemini.Provider, p.generator.Model()))
}

// models holds the configured model capabilities. provider is nil unless
// some capability needs Gemini.
type models struct {
	embedder ai.Embedder
	scorer   ai.PairScorer
	provider *geminiProvider
}

func newModels(ctx context.Context, config *Config, log *zap.Logger) (*models, error) {
	aiCfg := config.AI
	if aiCfg == nil {
		aiCfg = &AIConfig{Embedder: embedderHash}
	}
	reranker := rerankerOverlap
	if config.Retrieval != nil && config.Retrieval.Reranker != "" {
		reranker = strings.ToLower(strings.TrimSpace(config.Retrieval.Reranker))
	}
	embedderName := strings.ToLower(strings.TrimSpace(aiCfg.Embedder))

	m := &models{}
	if embedderName == embedderGemini || reranker == rerankerGemini {
		p, err := newGeminiProvider(ctx, aiCfg.Gemini, log)
		if err != nil {
			return nil, err
		}
		m.provider = p
	}

	switch embedderName {
	case embedderGemini:
		m.embedder = embedding.NewCachedEmbedder(m.provider.embedder)
	case embedderHash, "":
		m.embedder = embedding.NewCachedEmbedder(embedding.NewHashEmbedder(aiCfg.HashDim))
	default:
		return nil, fmt.Errorf("unsupported embedder: %s", aiCfg.Embedder)
	}

	switch reranker {
	case rerankerGemini:
		m.scorer = m.provider.scorer()
	case rerankerOverlap:
		m.scorer = retrieval.OverlapScorer{}
	case rerankerNone:
	default:
		return nil, fmt.Errorf("unsupported reranker: %s", reranker)
	}
	return m, nil
}

// matching is the assembled matching engine and the pieces commands reuse.
type matching struct {
	engine   *pipeline.Engine
	rules    *rules.Engine
	taxonomy *taxonomy.Store
	postings *posting.Records
}

func (m *matching) sections() func(string) bool {
	return func(name string) bool {
		if configSections[name] {
			return true
		}
		_, ok := m.rules.Current().Get(name)
		return ok
	}
}

func buildMatching(ctx context.Context, config *Config, st store.Store, tax *taxonomy.Store, postings *posting.Records, log *zap.Logger) (*matching, error) {
	if strings.TrimSpace(config.Vectors) == "" {
		return nil, errors.New("vectors file is not configured (set 'vectors' or run 'index build')")
	}
	vectors, err := embedding.LoadFile(config.Vectors)
	if err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}
	occIndex, skillIndex, err := vectors.Indexes(tax)
	if err != nil {
		return nil, err
	}

	mdl, err := newModels(ctx, config, log)
	if err != nil {
		return nil, err
	}
	if mdl.embedder.Model() != vectors.Model {
		log.Warn("vectors were built with a different embedder",
			zap.String("vectors_model", vectors.Model),
			zap.String("embedder_model", mdl.embedder.Model()),
		)
	}

	set, err := rules.Load(config.Rules, tax)
	if err != nil {
		return nil, fmt.Errorf("load business rules: %w", err)
	}
	table, err := skills.LoadTable(config.SkillMappings, tax)
	if err != nil {
		return nil, fmt.Errorf("load skill mappings: %w", err)
	}
	policy, err := decision.New(config.Decision)
	if err != nil {
		return nil, fmt.Errorf("decision config: %w", err)
	}

	retr := config.Retrieval
	if retr == nil {
		retr = &RetrievalConfig{TopK: retrieval.DefaultTopK}
	}

	var reranker *retrieval.Reranker
	if mdl.scorer != nil {
		reranker = retrieval.NewReranker(mdl.scorer, tax, retr.ModelTimeout, log)
	}

	ruleEngine := rules.NewEngine(set, config.Rules, tax, log)
	engine, err := pipeline.New(pipeline.Components{
		Retriever: retrieval.NewRetriever(mdl.embedder, occIndex, tax, retr.TopK, retr.ModelTimeout, log),
		Reranker:  reranker,
		Rules:     ruleEngine,
		Policy:    policy,
		Skills:    skills.NewMatcher(table, tax, mdl.embedder, skillIndex, config.Skills, retr.ModelTimeout, log),
		Taxonomy:  tax,
		Store:     st,
		Postings:  postings,
	}, log)
	if err != nil {
		return nil, err
	}

	log.Info("matching engine ready",
		zap.Int("occupations", occIndex.Len()),
		zap.Int("skills", skillIndex.Len()),
		zap.Int("business_rules", set.Len()),
		zap.Int("skill_mappings", table.Len()),
		zap.String("embedder", mdl.embedder.Model()),
	)

	return &matching{engine: engine, rules: ruleEngine, taxonomy: tax, postings: postings}, nil
}

func loadPostings(config *Config) (*posting.Records, error) {
	if strings.TrimSpace(config.Postings) == "" {
		return nil, errors.New("postings file is not configured (set 'postings')")
	}
	records, err := posting.LoadFile(config.Postings)
	if err != nil {
		return nil, fmt.Errorf("load postings: %w", err)
	}
	return records, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
