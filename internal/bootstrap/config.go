package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// 实时状态存储后端
const (
	StateBackendRedis  = "redis"
	StateBackendMemory = "memory"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	DBUser          string
	DBPassword      string
	DBHost          string
	DBPort          string
	DBName          string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	JWTSecret       string
	ServerPort      string
	LogLevel        string
	RateLimitMax    int
	RateLimitWindow time.Duration
	AppEnv          string
	KeyPrefix       string
	StateBackend    string
	AllowedOrigins  []string

	Judge0URL          string
	RapidAPIKey        string
	RapidAPIHost       string
	ExecutionTimeout   time.Duration
	ExecutionRateLimit int
	CodeDebounce       time.Duration
	SnapshotSchedule   time.Duration
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBHost:        os.Getenv("DB_HOST"),
		DBPort:        os.Getenv("DB_PORT"),
		DBName:        os.Getenv("DB_NAME"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		ServerPort:    os.Getenv("SERVER_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		AppEnv:        os.Getenv("APP_ENV"),
		KeyPrefix:     os.Getenv("REDIS_KEY_PREFIX"),
		StateBackend:  strings.ToLower(os.Getenv("STATE_BACKEND")),
		Judge0URL:     os.Getenv("JUDGE0_URL"),
		RapidAPIKey:   os.Getenv("RAPIDAPI_KEY"),
		RapidAPIHost:  os.Getenv("RAPIDAPI_HOST"),
		// --- 设置默认值 ---
		RateLimitMax:       100,
		RateLimitWindow:    1 * time.Second,
		ExecutionRateLimit: 10,
		ExecutionTimeout:   30 * time.Second,
		CodeDebounce:       300 * time.Millisecond,
		SnapshotSchedule:   5 * time.Minute,
	}

	cfg.RedisDB, _ = strconv.Atoi(os.Getenv("REDIS_DB")) // 忽略错误，默认为 0

	var err error
	if cfg.ExecutionTimeout, err = durationEnv("EXECUTION_TIMEOUT", cfg.ExecutionTimeout); err != nil {
		return nil, err
	}
	if cfg.CodeDebounce, err = durationEnv("CODE_DEBOUNCE", cfg.CodeDebounce); err != nil {
		return nil, err
	}
	if v := os.Getenv("EXECUTION_RATE_LIMIT"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n <= 0 {
			return nil, fmt.Errorf("EXECUTION_RATE_LIMIT must be a positive integer, got %q", v)
		}
		cfg.ExecutionRateLimit = n
	}
	cfg.AllowedOrigins = splitOrigins(os.Getenv("CORS_ALLOWED_ORIGIN"))

	// --- 设置其他默认值和进行必要检查 ---
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "cc:"
	}
	if cfg.StateBackend == "" {
		cfg.StateBackend = StateBackendRedis
	}
	switch cfg.StateBackend {
	case StateBackendRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
		}
	case StateBackendMemory:
	default:
		return nil, fmt.Errorf("STATE_BACKEND must be %q or %q, got %q", StateBackendRedis, StateBackendMemory, cfg.StateBackend)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// UsesRedis 表示实时状态和后台任务是否运行在 Redis 上
func (c *Config) UsesRedis() bool {
	return c.StateBackend == StateBackendRedis
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration (e.g. 300ms), got %q", key, v)
	}
	return d, nil
}

// splitOrigins 解析逗号分隔的来源列表，未设置时只允许本地前端
func splitOrigins(v string) []string {
	if strings.TrimSpace(v) == "" {
		return []string{"http://localhost:3000"}
	}
	var origins []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
