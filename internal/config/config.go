// Package config defines the single configuration struct shared by the CLI and
// the MCP server. Values come from defaults, an optional TOML file and the
// environment, in increasing order of precedence, and are validated once.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ErrInvalidConfig is returned by Validate for unusable settings.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration that reads "60s" style strings from TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds every tunable of the pipeline.
type Config struct {
	OpenAI     OpenAIConfig     `toml:"openai"`
	Chunking   ChunkingConfig   `toml:"chunking"`
	Index      IndexConfig      `toml:"index"`
	Input      InputConfig      `toml:"input"`
	Retrieval  RetrievalConfig  `toml:"retrieval"`
	Extraction ExtractionConfig `toml:"extraction"`
	Qdrant     QdrantConfig     `toml:"qdrant"`
	Server     ServerConfig     `toml:"server"`
}

// OpenAIConfig selects the model provider. When AzureEndpoint is set the
// Azure OpenAI service is used and the model names are deployment names.
type OpenAIConfig struct {
	APIKey          string  `toml:"api_key"`
	AzureEndpoint   string  `toml:"azure_endpoint"`
	AzureAPIVersion string  `toml:"azure_api_version"`
	EmbeddingModel  string  `toml:"embedding_model"`
	ChatModel       string  `toml:"chat_model"`
	RequestsPerSec  float64 `toml:"requests_per_second"`
	Burst           int     `toml:"burst"`
	MaxTextsPerCall int     `toml:"max_texts_per_call"`
}

// ChunkingConfig controls splitting and the index build worker pool.
type ChunkingConfig struct {
	MaxSize      int      `toml:"max_size"`
	Overlap      int      `toml:"overlap"`
	BatchSize    int      `toml:"batch_size"`
	Concurrency  int      `toml:"concurrency"`
	BatchTimeout Duration `toml:"batch_timeout"`
}

// IndexConfig locates the persisted merged index.
type IndexConfig struct {
	Path string `toml:"path"`
}

// InputConfig describes the note export.
type InputConfig struct {
	CSVPath     string `toml:"csv_path"`
	TitleColumn string `toml:"title_column"`
	TextColumn  string `toml:"text_column"`
}

// RetrievalConfig controls chunk retrieval before extraction.
type RetrievalConfig struct {
	Backend  string   `toml:"backend"` // "local" or "qdrant"
	Queries  []string `toml:"queries"`
	Keywords []string `toml:"keywords"`
	TopK     int      `toml:"top_k"`
}

// ExtractionConfig controls the LLM extraction and validation passes.
type ExtractionConfig struct {
	ValidateBatchSize int      `toml:"validate_batch_size"`
	CallTimeout       Duration `toml:"call_timeout"`
	OutputDir         string   `toml:"output_dir"`
	SkipValidation    bool     `toml:"skip_validation"`
}

// QdrantConfig locates the Qdrant instance used by publish and the qdrant backend.
type QdrantConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Collection string `toml:"collection"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Port       string `toml:"port"`
	ServerMode bool   `toml:"server_mode"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		OpenAI: OpenAIConfig{
			AzureAPIVersion: "2024-02-01",
			EmbeddingModel:  "text-embedding-3-large",
			ChatModel:       "gpt-4o",
			RequestsPerSec:  5,
			Burst:           4,
			MaxTextsPerCall: 1000,
		},
		Chunking: ChunkingConfig{
			MaxSize:      500,
			Overlap:      50,
			BatchSize:    20,
			Concurrency:  4,
			BatchTimeout: Duration(60 * time.Second),
		},
		Index: IndexConfig{Path: "notes_index/index.db"},
		Input: InputConfig{
			TitleColumn: "title",
			TextColumn:  "text",
		},
		Retrieval: RetrievalConfig{
			Backend:  "local",
			Queries:  []string{"kappa", "lambda", "klc", "flc", "free light chain"},
			Keywords: []string{"kappa", "lambda", "ratio"},
			TopK:     1000,
		},
		Extraction: ExtractionConfig{
			ValidateBatchSize: 10,
			CallTimeout:       Duration(120 * time.Second),
			OutputDir:         "output",
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "clinical_notes",
		},
		Server: ServerConfig{Port: "8080"},
	}
}

// Load builds the configuration from defaults, the TOML file at path (skipped
// when path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables read through getenv.
func (c *Config) applyEnv(getenv func(string) string) error {
	var errs []error

	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	integer := func(dst *int, key string) {
		if v := getenv(key); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = i
		}
	}
	float := func(dst *float64, key string) {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(dst *Duration, key string) {
		if v := getenv(key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}
	list := func(dst *[]string, key string) {
		if v := getenv(key); v != "" {
			var items []string
			for _, item := range strings.Split(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
			*dst = items
		}
	}

	str(&c.OpenAI.APIKey, "AZURE_OPENAI_API_KEY", "OPENAI_API_KEY")
	str(&c.OpenAI.AzureEndpoint, "AZURE_OPENAI_ENDPOINT")
	str(&c.OpenAI.AzureAPIVersion, "AZURE_OPENAI_API_VERSION")
	str(&c.OpenAI.EmbeddingModel, "EMBEDDING_MODEL")
	str(&c.OpenAI.ChatModel, "CHAT_MODEL")
	float(&c.OpenAI.RequestsPerSec, "OPENAI_REQUESTS_PER_SECOND")

	integer(&c.Chunking.MaxSize, "CHUNK_SIZE")
	integer(&c.Chunking.Overlap, "CHUNK_OVERLAP")
	integer(&c.Chunking.BatchSize, "BATCH_SIZE")
	integer(&c.Chunking.Concurrency, "CONCURRENCY")
	duration(&c.Chunking.BatchTimeout, "BATCH_TIMEOUT")

	str(&c.Index.Path, "INDEX_PATH")
	str(&c.Input.CSVPath, "INPUT_CSV")

	str(&c.Retrieval.Backend, "RETRIEVAL_BACKEND")
	list(&c.Retrieval.Queries, "RETRIEVAL_QUERIES")
	list(&c.Retrieval.Keywords, "RETRIEVAL_KEYWORDS")
	integer(&c.Retrieval.TopK, "RETRIEVAL_TOP_K")

	duration(&c.Extraction.CallTimeout, "LLM_TIMEOUT")
	str(&c.Extraction.OutputDir, "OUTPUT_DIR")

	str(&c.Qdrant.Host, "QDRANT_HOST")
	integer(&c.Qdrant.Port, "QDRANT_PORT")
	str(&c.Qdrant.Collection, "QDRANT_COLLECTION")

	str(&c.Server.Port, "PORT")
	if v := getenv("SERVER_MODE"); v != "" {
		c.Server.ServerMode = v == "true"
	}

	return errors.Join(errs...)
}

// Validate checks structural settings. Credentials are checked separately by
// RequireCredentials because not every command talks to the model provider.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	ch := c.Chunking
	check(ch.MaxSize > 0, "chunking.max_size %d must be positive", ch.MaxSize)
	check(ch.Overlap >= 0, "chunking.overlap %d must not be negative", ch.Overlap)
	check(ch.Overlap < ch.MaxSize, "chunking.overlap %d must be smaller than max_size %d", ch.Overlap, ch.MaxSize)
	check(ch.BatchSize > 0, "chunking.batch_size %d must be positive", ch.BatchSize)
	check(ch.Concurrency > 0, "chunking.concurrency %d must be positive", ch.Concurrency)
	check(ch.BatchTimeout > 0, "chunking.batch_timeout must be positive")

	check(c.Index.Path != "", "index.path must be set")
	check(c.Input.TitleColumn != "" && c.Input.TextColumn != "", "input column names must be set")

	r := c.Retrieval
	check(r.Backend == "local" || r.Backend == "qdrant", "retrieval.backend %q must be local or qdrant", r.Backend)
	check(len(r.Queries) > 0, "retrieval.queries must not be empty")
	check(r.TopK > 0, "retrieval.top_k %d must be positive", r.TopK)

	check(c.Extraction.ValidateBatchSize > 0, "extraction.validate_batch_size must be positive")
	check(c.Extraction.CallTimeout > 0, "extraction.call_timeout must be positive")

	check(c.OpenAI.RequestsPerSec > 0, "openai.requests_per_second must be positive")
	check(c.OpenAI.Burst > 0, "openai.burst must be positive")
	check(c.OpenAI.MaxTextsPerCall > 0, "openai.max_texts_per_call must be positive")
	check(c.OpenAI.EmbeddingModel != "" && c.OpenAI.ChatModel != "", "openai model names must be set")

	check(c.Qdrant.Port > 0, "qdrant.port %d must be positive", c.Qdrant.Port)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// RequireCredentials checks that a model provider can be reached.
func (c *Config) RequireCredentials() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("%w: AZURE_OPENAI_API_KEY or OPENAI_API_KEY must be set", ErrInvalidConfig)
	}
	if c.OpenAI.AzureEndpoint != "" && c.OpenAI.AzureAPIVersion == "" {
		return fmt.Errorf("%w: AZURE_OPENAI_API_VERSION must be set with AZURE_OPENAI_ENDPOINT", ErrInvalidConfig)
	}
	return nil
}

// UsesAzure reports whether requests go to an Azure OpenAI endpoint.
func (c *Config) UsesAzure() bool {
	return c.OpenAI.AzureEndpoint != ""
}
