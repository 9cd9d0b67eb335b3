// Package config 负责加载和管理应用程序的配置
// 使用 viper 库支持 YAML 配置文件和环境变量覆盖
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 是应用程序的根配置结构
// 包含所有子配置模块
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`    // 服务器配置
	Database  DatabaseConfig  `mapstructure:"database"`  // 数据库配置
	Redis     RedisConfig     `mapstructure:"redis"`     // Redis 配置
	JWT       JWTConfig       `mapstructure:"jwt"`       // JWT 配置
	Log       LogConfig       `mapstructure:"log"`       // 日志配置
	AI        AIConfig        `mapstructure:"ai"`        // 大模型服务配置
	Extractor ExtractorConfig `mapstructure:"extractor"` // 文档解析配置
	Documents DocumentsConfig `mapstructure:"documents"` // 文档上传接口配置
	RateLimit RateLimitConfig `mapstructure:"ratelimit"` // 限流配置
	OTel      OTelConfig      `mapstructure:"otel"`      // 链路追踪配置
}

// ServerConfig 服务器相关配置
type ServerConfig struct {
	Port int      `mapstructure:"port"` // 监听端口，默认 8080
	Mode string   `mapstructure:"mode"` // 运行模式: debug / release
	CORS []string `mapstructure:"cors"` // CORS 允许的域名
}

// DatabaseConfig 数据库连接配置
// Driver 支持 mysql / postgres / sqlite
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`         // 数据库驱动
	Host         string `mapstructure:"host"`           // 数据库主机地址
	Port         int    `mapstructure:"port"`           // 数据库端口
	Username     string `mapstructure:"username"`       // 数据库用户名
	Password     string `mapstructure:"password"`       // 数据库密码
	Database     string `mapstructure:"database"`       // 数据库名称（sqlite 时为文件路径）
	Charset      string `mapstructure:"charset"`        // 字符集（仅 mysql）
	SSLMode      string `mapstructure:"sslmode"`        // SSL 模式（仅 postgres）
	MaxIdleConns int    `mapstructure:"max_idle_conns"` // 最大空闲连接数
	MaxOpenConns int    `mapstructure:"max_open_conns"` // 最大打开连接数
	MaxLifetime  int    `mapstructure:"max_lifetime"`   // 连接最大生命周期（秒）
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Host     string `mapstructure:"host"`      // Redis 主机地址
	Port     int    `mapstructure:"port"`      // Redis 端口
	Username string `mapstructure:"username"`  // Redis 用户名
	Password string `mapstructure:"password"`  // Redis 密码
	DB       int    `mapstructure:"db"`        // 数据库索引 (0-15)
	PoolSize int    `mapstructure:"pool_size"` // 连接池大小
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	Secret        string        `mapstructure:"secret"`         // JWT 签名密钥，至少32字符
	AccessExpire  time.Duration `mapstructure:"access_expire"`  // Access Token 过期时间
	RefreshExpire time.Duration `mapstructure:"refresh_expire"` // Refresh Token 过期时间
	CookieName    string        `mapstructure:"cookie_name"`    // 携带 Access Token 的 Cookie 名
	CookieSecure  bool          `mapstructure:"cookie_secure"`  // Cookie 是否仅 HTTPS
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug/info/warn/error
	Format string `mapstructure:"format"` // 日志格式: json/console
}

// AIConfig 大模型服务配置
type AIConfig struct {
	Provider string        `mapstructure:"provider"` // gemini / dashscope / openai
	APIKey   string        `mapstructure:"api_key"`  // 服务商 API Key
	Model    string        `mapstructure:"model"`    // 模型名称，为空时使用服务商默认模型
	Endpoint string        `mapstructure:"endpoint"` // 自定义接口地址，为空时使用官方地址
	Timeout  time.Duration `mapstructure:"timeout"`  // 单次补全调用超时
}

// ExtractorConfig 文档解析配置
type ExtractorConfig struct {
	Backend  string        `mapstructure:"backend"`   // local / documentai
	Timeout  time.Duration `mapstructure:"timeout"`   // 单次解析超时
	MaxBytes int64         `mapstructure:"max_bytes"` // 上传文件大小上限

	// Document AI 相关，仅 backend=documentai 时需要
	ProjectID   string `mapstructure:"project_id"`
	Location    string `mapstructure:"location"`
	ProcessorID string `mapstructure:"processor_id"`
	Credentials string `mapstructure:"credentials"` // 服务账号 JSON 内容或文件路径，为空时使用默认凭据
}

// DocumentsConfig 文档上传接口配置
type DocumentsConfig struct {
	RequireAuth bool `mapstructure:"require_auth"` // 是否要求登录后才能解析文档
}

// RateLimitConfig 每个用户的限流配置
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`   // 每秒允许的请求数
	Burst int     `mapstructure:"burst"` // 突发容量
}

// OTelConfig 链路追踪配置
type OTelConfig struct {
	Enabled     bool    `mapstructure:"enabled"`      // 是否启用
	ServiceName string  `mapstructure:"service_name"` // 服务名
	Endpoint    string  `mapstructure:"endpoint"`     // OTLP HTTP 地址，为空时输出到 stdout
	Insecure    bool    `mapstructure:"insecure"`     // 是否使用 HTTP 明文
	SampleRatio float64 `mapstructure:"sample_ratio"` // 采样率 0-1
}

// Load 从指定路径加载配置文件
// 支持环境变量覆盖配置项，启动目录下的 .env 会先被加载到环境变量
// 参数:
//   - configPath: 配置文件目录路径 (如 "./configs")
//
// 返回:
//   - *Config: 配置对象
//   - error: 如果加载失败则返回错误
func Load(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load(".env")

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	// 例如: DATABASE_HOST -> database.host
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVariables(v)
	setDefaults(v)

	// 读取配置文件（如果不存在则使用默认值和环境变量）
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置的合法性
func (c *Config) Validate() error {
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("config: jwt.secret must be at least 32 characters")
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	switch c.AI.Provider {
	case "gemini", "dashscope", "openai":
	default:
		return fmt.Errorf("config: unsupported ai.provider %q", c.AI.Provider)
	}
	switch c.Extractor.Backend {
	case "local":
	case "documentai":
		if c.Extractor.ProjectID == "" || c.Extractor.ProcessorID == "" {
			return fmt.Errorf("config: extractor.project_id and extractor.processor_id are required for documentai")
		}
	default:
		return fmt.Errorf("config: unsupported extractor.backend %q", c.Extractor.Backend)
	}
	return nil
}

// bindEnvVariables 绑定环境变量到配置项
func bindEnvVariables(v *viper.Viper) {
	// 服务器配置
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.mode", "SERVER_MODE")

	// 数据库配置
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.username", "DATABASE_USERNAME")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.database", "DATABASE_NAME")

	// Redis 配置
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.username", "REDIS_USERNAME")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// JWT 配置
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// 大模型配置
	v.BindEnv("ai.provider", "AI_PROVIDER")
	v.BindEnv("ai.api_key", "AI_API_KEY")
	v.BindEnv("ai.model", "AI_MODEL")

	// Document AI
	v.BindEnv("extractor.backend", "EXTRACTOR_BACKEND")
	v.BindEnv("extractor.project_id", "GCP_PROJECT_ID")
	v.BindEnv("extractor.location", "DOCUMENTAI_LOCATION")
	v.BindEnv("extractor.processor_id", "DOCUMENTAI_PROCESSOR_ID")
	v.BindEnv("extractor.credentials", "GOOGLE_APPLICATION_CREDENTIALS")

	v.BindEnv("otel.enabled", "OTEL_ENABLED")
	v.BindEnv("otel.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// setDefaults 设置配置项的默认值
// 当配置文件中没有指定某个值时，将使用这里设置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors", []string{"http://localhost:3000", "http://localhost:5173"})

	// 数据库默认配置
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.database", "papyrus")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.max_lifetime", 3600)

	// Redis 默认配置
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)

	// JWT 默认配置
	v.SetDefault("jwt.access_expire", "24h")
	v.SetDefault("jwt.refresh_expire", "168h")
	v.SetDefault("jwt.cookie_name", "papyrus_token")
	v.SetDefault("jwt.cookie_secure", false)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// 大模型默认配置
	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.timeout", "60s")

	// 文档解析默认配置
	v.SetDefault("extractor.backend", "local")
	v.SetDefault("extractor.timeout", "60s")
	v.SetDefault("extractor.max_bytes", 20<<20)
	v.SetDefault("extractor.location", "us")

	v.SetDefault("documents.require_auth", true)

	v.SetDefault("ratelimit.rps", 2)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.service_name", "papyrus")
	v.SetDefault("otel.sample_ratio", 0.1)
}
