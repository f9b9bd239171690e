package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	// ProviderHash selects the local feature-hashing embedder. It needs no
	// network access and is the default so ingestion works offline.
	ProviderHash = "hash"

	BackendLocal    = "local"
	BackendPostgres = "postgres"
)

type Config struct {
	DataDir  string `yaml:"data_dir"`
	IndexDir string `yaml:"index_dir"`
	HTTPAddr string `yaml:"http_addr"`

	Crawl      CrawlConfig     `yaml:"crawl"`
	Chunking   ChunkingConfig  `yaml:"chunking"`
	Embeddings EmbeddingConfig `yaml:"embeddings"`
	LLM        LLMConfig       `yaml:"llm"`
	Retrieval  RetrievalConfig `yaml:"retrieval"`

	IndexBackend string `yaml:"index_backend"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	Neo4jURI     string `yaml:"neo4j_uri"`
	Neo4jUser    string `yaml:"neo4j_user"`
	Neo4jPass    string `yaml:"neo4j_password"`

	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
}

type CrawlConfig struct {
	SeedURL     string        `yaml:"seed_url"`
	AllowedHost string        `yaml:"allowed_host"`
	ScopePrefix string        `yaml:"scope_prefix"`
	Delay       time.Duration `yaml:"delay"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxPages    int           `yaml:"max_pages"`
	MaxDepth    int           `yaml:"max_depth"`
	Workers     int           `yaml:"workers"`
	UserAgent   string        `yaml:"user_agent"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type RetrievalConfig struct {
	K int `yaml:"k"`
}

// PagesDir is where the crawler writes page records.
func (c Config) PagesDir() string { return filepath.Join(c.DataDir, "pages") }

// FilesDir is where the crawler writes downloaded documents.
func (c Config) FilesDir() string { return filepath.Join(c.DataDir, "files") }

// Load reads .env (if present), then the optional YAML file named by
// VISACOACH_CONFIG, then environment variables. Later sources win.
func Load() (Config, error) {
	return LoadFile(os.Getenv("VISACOACH_CONFIG"))
}

// LoadFile is Load with an explicit YAML path; an empty path skips the file.
func LoadFile(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func Defaults() Config {
	return Config{
		DataDir:  "data-store",
		IndexDir: "faiss_index",
		HTTPAddr: ":8080",
		Crawl: CrawlConfig{
			SeedURL:     "https://www.sjsu.edu/isss/index.php",
			AllowedHost: "www.sjsu.edu",
			ScopePrefix: "/isss/",
			Delay:       500 * time.Millisecond,
			Timeout:     10 * time.Second,
			Workers:     1,
			UserAgent:   "visacoach-crawler/1.0",
		},
		Chunking: ChunkingConfig{Size: 1000, Overlap: 200},
		Embeddings: EmbeddingConfig{
			Provider:  ProviderHash,
			Model:     "hash-v1",
			Dimension: 384,
		},
		LLM: LLMConfig{
			Provider:    ProviderOllama,
			Model:       "llama3.1:8b",
			Temperature: 0.3,
			MaxTokens:   512,
			Timeout:     60 * time.Second,
		},
		Retrieval:    RetrievalConfig{K: 4},
		IndexBackend: BackendLocal,
		PostgresDSN:  "postgres://localhost:5432/visacoach?sslmode=disable",
		Neo4jUser:    "neo4j",
		OllamaHost:   "http://localhost:11434",
	}
}

func applyEnv(cfg *Config) {
	cfg.DataDir = getEnv("VISACOACH_DATA_DIR", cfg.DataDir)
	cfg.IndexDir = getEnv("VISACOACH_INDEX_DIR", cfg.IndexDir)
	cfg.HTTPAddr = getEnv("VISACOACH_HTTP_ADDR", cfg.HTTPAddr)

	cfg.Crawl.SeedURL = getEnv("CRAWL_SEED_URL", cfg.Crawl.SeedURL)
	cfg.Crawl.AllowedHost = getEnv("CRAWL_ALLOWED_HOST", cfg.Crawl.AllowedHost)
	cfg.Crawl.ScopePrefix = getEnv("CRAWL_SCOPE_PREFIX", cfg.Crawl.ScopePrefix)
	cfg.Crawl.Delay = getEnvDuration("CRAWL_DELAY", cfg.Crawl.Delay)
	cfg.Crawl.Timeout = getEnvDuration("CRAWL_TIMEOUT", cfg.Crawl.Timeout)
	cfg.Crawl.MaxPages = getEnvInt("CRAWL_MAX_PAGES", cfg.Crawl.MaxPages)
	cfg.Crawl.MaxDepth = getEnvInt("CRAWL_MAX_DEPTH", cfg.Crawl.MaxDepth)
	cfg.Crawl.Workers = getEnvInt("CRAWL_WORKERS", cfg.Crawl.Workers)

	cfg.Chunking.Size = getEnvInt("CHUNK_SIZE", cfg.Chunking.Size)
	cfg.Chunking.Overlap = getEnvInt("CHUNK_OVERLAP", cfg.Chunking.Overlap)

	cfg.Embeddings.Provider = strings.ToLower(getEnv("EMBEDDINGS_PROVIDER", cfg.Embeddings.Provider))
	cfg.Embeddings.Model = getEnv("EMBEDDINGS_MODEL", cfg.Embeddings.Model)
	cfg.Embeddings.Dimension = getEnvInt("EMBEDDINGS_DIMENSION", cfg.Embeddings.Dimension)

	cfg.LLM.Provider = strings.ToLower(getEnv("LLM_PROVIDER", cfg.LLM.Provider))
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", cfg.LLM.Temperature)
	cfg.LLM.MaxTokens = getEnvInt("LLM_MAX_TOKENS", cfg.LLM.MaxTokens)
	cfg.LLM.Timeout = getEnvDuration("LLM_TIMEOUT", cfg.LLM.Timeout)

	cfg.Retrieval.K = getEnvInt("RETRIEVAL_K", cfg.Retrieval.K)

	cfg.IndexBackend = strings.ToLower(getEnv("INDEX_BACKEND", cfg.IndexBackend))
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.Neo4jURI = getEnv("NEO4J_URI", cfg.Neo4jURI)
	cfg.Neo4jUser = getEnv("NEO4J_USERNAME", cfg.Neo4jUser)
	cfg.Neo4jPass = getEnv("NEO4J_PASSWORD", cfg.Neo4jPass)

	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
}

// Validate reports configuration values the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.Chunking.Size, c.Chunking.Overlap))
	}
	if c.Retrieval.K < 1 {
		errs = append(errs, fmt.Errorf("retrieval k must be at least 1, got %d", c.Retrieval.K))
	}
	switch c.Embeddings.Provider {
	case ProviderHash, ProviderOllama, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider: %s", c.Embeddings.Provider))
	}
	switch c.LLM.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider: %s", c.LLM.Provider))
	}
	switch c.IndexBackend {
	case BackendLocal, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown index backend: %s", c.IndexBackend))
	}
	if c.Crawl.Workers < 1 {
		errs = append(errs, fmt.Errorf("crawl workers must be at least 1, got %d", c.Crawl.Workers))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float32) float32 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
