package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             int
	DataDir          string
	LogLevel         string
	LogEncoding      string
	CacheType        string
	CacheMemoryTiles int
	CacheFileDir     string
	AllowedOrigin    string

	StoreBackend   string
	StoreWait      time.Duration
	RedisAddr      string
	RedisDB        int
	RedisPassword  string
	RedisMaxIdle   int
	RedisMaxActive int
	SQLitePath     string
	MapConfigTTL   time.Duration

	RendererPoolSize int
	RendererIdleTTL  time.Duration
	EngineURL        string
	EngineTimeout    time.Duration
	FetchTimeout     time.Duration
	MaxStaticSize    int
	MaxMapConfigSize int64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("data_dir", "/data")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_encoding", "json")
	v.SetDefault("cache", "memory")
	v.SetDefault("cache_memory_tiles", 2000)
	v.SetDefault("allowed_origin", "")

	v.SetDefault("store_backend", "redis")
	v.SetDefault("store_wait", "30s")
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_max_idle", 16)
	v.SetDefault("redis_max_active", 64)
	v.SetDefault("map_config_ttl", "300s")

	v.SetDefault("renderer_pool_size", 1024)
	v.SetDefault("renderer_idle_ttl", "5m")
	v.SetDefault("engine_url", "http://127.0.0.1:8181")
	v.SetDefault("engine_timeout", "10s")
	v.SetDefault("fetch_timeout", "5s")
	v.SetDefault("max_static_size", 8192)
	v.SetDefault("max_map_config_size", 1<<20)
}

// Load reads defaults, then the optional config file at path (toml, yaml or
// json by extension), then environment variables named after the keys in
// upper case (PORT, LOG_LEVEL, REDIS_ADDR, ...). Durations use Go syntax
// such as "300s" or "5m".
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	dataDir := v.GetString("data_dir")
	cacheFileDir := v.GetString("cache_file_dir")
	if cacheFileDir == "" {
		cacheFileDir = filepath.Join(dataDir, "cache")
	}
	sqlitePath := v.GetString("sqlite_path")
	if sqlitePath == "" {
		sqlitePath = filepath.Join(dataDir, "mapconfigs.db")
	}

	cfg := &Config{
		Port:             v.GetInt("port"),
		DataDir:          dataDir,
		LogLevel:         v.GetString("log_level"),
		LogEncoding:      v.GetString("log_encoding"),
		CacheType:        v.GetString("cache"),
		CacheMemoryTiles: v.GetInt("cache_memory_tiles"),
		CacheFileDir:     cacheFileDir,
		AllowedOrigin:    v.GetString("allowed_origin"),

		StoreBackend:   v.GetString("store_backend"),
		StoreWait:      v.GetDuration("store_wait"),
		RedisAddr:      v.GetString("redis_addr"),
		RedisDB:        v.GetInt("redis_db"),
		RedisPassword:  v.GetString("redis_password"),
		RedisMaxIdle:   v.GetInt("redis_max_idle"),
		RedisMaxActive: v.GetInt("redis_max_active"),
		SQLitePath:     sqlitePath,
		MapConfigTTL:   v.GetDuration("map_config_ttl"),

		RendererPoolSize: v.GetInt("renderer_pool_size"),
		RendererIdleTTL:  v.GetDuration("renderer_idle_ttl"),
		EngineURL:        v.GetString("engine_url"),
		EngineTimeout:    v.GetDuration("engine_timeout"),
		FetchTimeout:     v.GetDuration("fetch_timeout"),
		MaxStaticSize:    v.GetInt("max_static_size"),
		MaxMapConfigSize: v.GetInt64("max_map_config_size"),
	}

	if cfg.MapConfigTTL <= 0 {
		return nil, fmt.Errorf("map_config_ttl must be positive, got %s", cfg.MapConfigTTL)
	}
	return cfg, nil
}
