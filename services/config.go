package services

import (
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Gemini    GeminiConfig
	Realtime  RealtimeConfig
	GitHub    GitHubConfig
	Diagram   DiagramConfig
	CDN       CDNConfig
	Redis     RedisConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Credits   CreditsConfig
	Pipeline  PipelineConfig
	Admin     AdminConfig
}

type ServerConfig struct {
	Port        string
	Environment string
}

type DatabaseConfig struct {
	URL          string
	Seed         bool
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type RealtimeConfig struct {
	APIKey      string
	Model       string
	Voice       string
	SessionsURL string
}

type GitHubConfig struct {
	Token     string
	APIURL    string
	CacheSize int
	CacheTTL  time.Duration
}

type DiagramConfig struct {
	RenderURL string
}

type CDNConfig struct {
	Provider string // minio or s3
	Minio    MinioSettings
	S3       S3Settings
}

type MinioSettings struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

type S3Settings struct {
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

type RedisConfig struct {
	Addr     string
	Password string
}

type JWTConfig struct {
	Secret string
}

type WebSocketConfig struct {
	AllowedOrigins string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type CreditsConfig struct {
	Ceiling     int
	ResetWindow time.Duration
}

type PipelineConfig struct {
	FileConcurrency int
	LLMTimeout      time.Duration
}

type AdminConfig struct {
	Email    string
	Password string
}

// IsProduction reports whether cookies should be marked secure.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	// Developer overrides; missing file is fine.
	_ = godotenv.Load(".env.local")

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	defaults := []struct {
		key, env string
		value    interface{}
	}{
		{"server.port", "SERVER_PORT", "8080"},
		{"server.environment", "ENVIRONMENT", "development"},
		{"database.url", "DATABASE_URL", ""},
		{"database.seed", "DATABASE_SEED", "true"},
		{"database.log_level", "DATABASE_LOG_LEVEL", "silent"},
		{"database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS", "5"},
		{"database.max_open_conns", "DATABASE_MAX_OPEN_CONNS", "20"},
		{"gemini.api_key", "GEMINI_API_KEY", ""},
		{"gemini.model", "GEMINI_MODEL", DefaultModelName},
		{"realtime.api_key", "OPENAI_API_KEY", ""},
		{"realtime.model", "REALTIME_MODEL", "gpt-4o-realtime-preview"},
		{"realtime.voice", "REALTIME_VOICE", "verse"},
		{"realtime.sessions_url", "REALTIME_SESSIONS_URL", "https://api.openai.com/v1/realtime/sessions"},
		{"github.token", "GITHUB_TOKEN", ""},
		{"github.api_url", "GITHUB_API_URL", "https://api.github.com"},
		{"github.cache_size", "GITHUB_CACHE_SIZE", "256"},
		{"github.cache_ttl", "GITHUB_CACHE_TTL", "10m"},
		{"diagram.render_url", "DIAGRAM_RENDER_URL", "https://mermaid.ink/img/"},
		{"cdn.provider", "CDN_PROVIDER", "minio"},
		{"minio.endpoint", "MINIO_ENDPOINT", ""},
		{"minio.access_key", "MINIO_ACCESS_KEY", ""},
		{"minio.secret_key", "MINIO_SECRET_KEY", ""},
		{"minio.bucket", "MINIO_BUCKET", "diagrams"},
		{"minio.use_ssl", "MINIO_USE_SSL", "false"},
		{"minio.public_url", "MINIO_PUBLIC_URL", ""},
		{"s3.region", "AWS_REGION", ""},
		{"s3.access_key", "AWS_ACCESS_KEY", ""},
		{"s3.secret_key", "AWS_SECRET_KEY", ""},
		{"s3.bucket", "S3_BUCKET", ""},
		{"redis.addr", "REDIS_ADDR", ""},
		{"redis.password", "REDIS_PASSWORD", ""},
		{"jwt.secret", "JWT_SECRET", ""},
		{"websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS", ""},
		{"cors.allowed_origins", "CORS_ALLOWED_ORIGINS", "http://localhost:5173"},
		{"credits.ceiling", "CREDITS_CEILING", "2"},
		{"credits.reset_window", "CREDITS_RESET_WINDOW", "48h"},
		{"pipeline.file_concurrency", "PIPELINE_FILE_CONCURRENCY", "4"},
		{"pipeline.llm_timeout", "PIPELINE_LLM_TIMEOUT", "2m"},
		{"admin.email", "ADMIN_EMAIL", ""},
		{"admin.password", "ADMIN_PASSWORD", ""},
	}
	for _, d := range defaults {
		viper.SetDefault(d.key, d.value)
		viper.BindEnv(d.key, d.env)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	return &Config{
		Server: ServerConfig{
			Port:        viper.GetString("server.port"),
			Environment: viper.GetString("server.environment"),
		},
		Database: DatabaseConfig{
			URL:          viper.GetString("database.url"),
			Seed:         viper.GetBool("database.seed"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		Gemini: GeminiConfig{
			APIKey: viper.GetString("gemini.api_key"),
			Model:  viper.GetString("gemini.model"),
		},
		Realtime: RealtimeConfig{
			APIKey:      viper.GetString("realtime.api_key"),
			Model:       viper.GetString("realtime.model"),
			Voice:       viper.GetString("realtime.voice"),
			SessionsURL: viper.GetString("realtime.sessions_url"),
		},
		GitHub: GitHubConfig{
			Token:     viper.GetString("github.token"),
			APIURL:    viper.GetString("github.api_url"),
			CacheSize: viper.GetInt("github.cache_size"),
			CacheTTL:  viper.GetDuration("github.cache_ttl"),
		},
		Diagram: DiagramConfig{
			RenderURL: viper.GetString("diagram.render_url"),
		},
		CDN: CDNConfig{
			Provider: strings.ToLower(viper.GetString("cdn.provider")),
			Minio: MinioSettings{
				Endpoint:  viper.GetString("minio.endpoint"),
				AccessKey: viper.GetString("minio.access_key"),
				SecretKey: viper.GetString("minio.secret_key"),
				Bucket:    viper.GetString("minio.bucket"),
				UseSSL:    viper.GetBool("minio.use_ssl"),
				PublicURL: viper.GetString("minio.public_url"),
			},
			S3: S3Settings{
				Region:    viper.GetString("s3.region"),
				AccessKey: viper.GetString("s3.access_key"),
				SecretKey: viper.GetString("s3.secret_key"),
				Bucket:    viper.GetString("s3.bucket"),
			},
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(viper.GetString("cors.allowed_origins")),
		},
		Credits: CreditsConfig{
			Ceiling:     viper.GetInt("credits.ceiling"),
			ResetWindow: viper.GetDuration("credits.reset_window"),
		},
		Pipeline: PipelineConfig{
			FileConcurrency: viper.GetInt("pipeline.file_concurrency"),
			LLMTimeout:      viper.GetDuration("pipeline.llm_timeout"),
		},
		Admin: AdminConfig{
			Email:    viper.GetString("admin.email"),
			Password: viper.GetString("admin.password"),
		},
	}
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
