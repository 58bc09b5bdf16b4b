package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/edgestore/edgestore/internal/edgesrv/validation"
)

type DBParam struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"required,min=1,max=65535"`
	DBName   string `toml:"dbname" validate:"required"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	SSLMode  string `toml:"sslmode" validate:"oneof=disable require verify-ca verify-full"`
	MaxConns int    `toml:"max_conns" validate:"min=1"`
}

type RedisParam struct {
	Enabled          bool   `toml:"enabled"`
	Addr             string `toml:"addr" validate:"required_if=Enabled true"`
	Password         string `toml:"password"`
	DB               int    `toml:"db" validate:"min=0"`
	ChannelPrefix    string `toml:"channel_prefix"`
	DialTimeoutMs    int    `toml:"dial_timeout_ms" validate:"min=1"`
	LatestTTLSeconds int    `toml:"latest_ttl_seconds" validate:"min=0"`
}

type EngineParam struct {
	PublishBatchSize   int `toml:"publish_batch_size" validate:"min=1"`
	FetchBatchSize     int `toml:"fetch_batch_size" validate:"min=1"`
	BackfillBatchSize  int `toml:"backfill_batch_size" validate:"min=1"`
	TransformTimeoutMs int `toml:"transform_timeout_ms" validate:"min=1"`
	MetadataCacheSize  int `toml:"metadata_cache_size" validate:"min=1"`
}

type ConfigParam struct {
	ServerName string      `toml:"server_name" validate:"required,nameFormatValidator"`
	DB         DBParam     `toml:"db"`
	Redis      RedisParam  `toml:"redis"`
	Engine     EngineParam `toml:"engine"`
}

func (c *ConfigParam) TransformTimeout() time.Duration {
	return time.Duration(c.Engine.TransformTimeoutMs) * time.Millisecond
}

func (c *ConfigParam) RedisDialTimeout() time.Duration {
	return time.Duration(c.Redis.DialTimeoutMs) * time.Millisecond
}

func (c *ConfigParam) LatestTTL() time.Duration {
	return time.Duration(c.Redis.LatestTTLSeconds) * time.Second
}

var cfg *ConfigParam

func Config() *ConfigParam {
	return cfg
}

func defaultConfig() *ConfigParam {
	return &ConfigParam{
		ServerName: "edgestore",
		DB: DBParam{
			Host:     "localhost",
			Port:     5432,
			DBName:   "edgestore",
			User:     "edgestore_api",
			Password: "abc@123",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Redis: RedisParam{
			Enabled:          false,
			Addr:             "localhost:6379",
			ChannelPrefix:    "edgestore.events.",
			DialTimeoutMs:    2000,
			LatestTTLSeconds: 300,
		},
		Engine: EngineParam{
			PublishBatchSize:   500,
			FetchBatchSize:     256,
			BackfillBatchSize:  200,
			TransformTimeoutMs: 100,
			MetadataCacheSize:  1024,
		},
	}
}

// LoadConfig reads a TOML file over the compiled-in defaults. An empty
// filename keeps the defaults.
func LoadConfig(filename string) error {
	cp := defaultConfig()
	if filename != "" {
		content, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("error reading config file: %v", err)
		}
		if _, err := toml.Decode(string(content), cp); err != nil {
			return fmt.Errorf("error parsing config file: %v", err)
		}
	}
	if err := validation.V().Struct(cp); err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}
	cfg = cp
	return nil
}

func init() {
	err := LoadConfig("")
	if err != nil {
		panic(err)
	}
}
