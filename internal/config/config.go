// Package config provides configuration for the sqlagent server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/database"
	"github.com/xiaot623/gogo/sqlagent/internal/adapter/llm"
)

// Config holds the sqlagent configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Persistence for sessions, messages and turn events
	DatabaseURL string

	// LLM settings
	LLMProvider      string
	LLMBaseURL       string
	LLMAPIKey        string
	LLMChatModel     string
	LLMReasonerModel string
	LLMTimeout       time.Duration

	// Pipeline settings
	MaxRetries       int
	SQLTimeout       time.Duration
	MemoryMaxHistory int
	SchemaMaxChars   int
	ResultMaxRows    int
	DirectQuery      bool
	SQLPolicyFile    string

	// Databases
	DefaultDatabase string
	Databases       map[string]database.Config

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel  string
	LogFormat string
}

// Setting keys. Each is also read from the upper-cased environment variable.
const (
	keyHTTPPort         = "http_port"
	keyDatabaseURL      = "database_url"
	keyLLMProvider      = "llm_provider"
	keyLLMBaseURL       = "llm_base_url"
	keyLLMAPIKey        = "llm_api_key"
	keyLLMChatModel     = "llm_chat_model"
	keyLLMReasonerModel = "llm_reasoner_model"
	keyLLMTimeoutMS     = "llm_timeout_ms"
	keyMaxRetryCount    = "max_retry_count"
	keySQLTimeout       = "sql_timeout_seconds"
	keyMemoryMaxHistory = "memory_max_history"
	keySchemaMaxChars   = "schema_max_chars"
	keyResultMaxRows    = "result_max_rows"
	keyDirectQuery      = "direct_query"
	keySQLPolicyFile    = "sql_policy_file"
	keyDefaultDatabase  = "default_database"
	keyWSPingMS         = "ws_ping_interval_ms"
	keyWSWriteMS        = "ws_write_timeout_ms"
	keyWSReadMS         = "ws_read_timeout_ms"
	keyWSMaxMessageSize = "ws_max_message_size"
	keyLogLevel         = "log_level"
	keyLogFormat        = "log_format"
)

// DefaultDatabaseKey is registered as a local sqlite file when no databases are declared.
const DefaultDatabaseKey = "business"

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyHTTPPort, 8080)
	v.SetDefault(keyDatabaseURL, "file:sqlagent.db?cache=shared&mode=rwc")
	v.SetDefault(keyLLMProvider, llm.ProviderOpenAI)
	v.SetDefault(keyLLMBaseURL, "https://api.deepseek.com/v1")
	v.SetDefault(keyLLMAPIKey, "")
	v.SetDefault(keyLLMChatModel, "deepseek-chat")
	v.SetDefault(keyLLMReasonerModel, "deepseek-reasoner")
	v.SetDefault(keyLLMTimeoutMS, 120000)
	v.SetDefault(keyMaxRetryCount, 2)
	v.SetDefault(keySQLTimeout, 30)
	v.SetDefault(keyMemoryMaxHistory, 10)
	v.SetDefault(keySchemaMaxChars, 40000)
	v.SetDefault(keyResultMaxRows, 50)
	v.SetDefault(keyDirectQuery, false)
	v.SetDefault(keySQLPolicyFile, "")
	v.SetDefault(keyDefaultDatabase, DefaultDatabaseKey)
	v.SetDefault(keyWSPingMS, 30000)
	v.SetDefault(keyWSWriteMS, 10000)
	v.SetDefault(keyWSReadMS, 60000)
	v.SetDefault(keyWSMaxMessageSize, 65536)
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, "console")
}

// Load reads defaults, then the optional YAML file at path, then environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("SQLAGENT_CONFIG")
	}
	var databases map[string]database.Config
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		dbs, err := loadDatabases(path)
		if err != nil {
			return nil, err
		}
		databases = dbs
	}

	cfg := &Config{
		HTTPPort:         v.GetInt(keyHTTPPort),
		DatabaseURL:      v.GetString(keyDatabaseURL),
		LLMProvider:      v.GetString(keyLLMProvider),
		LLMBaseURL:       v.GetString(keyLLMBaseURL),
		LLMAPIKey:        v.GetString(keyLLMAPIKey),
		LLMChatModel:     v.GetString(keyLLMChatModel),
		LLMReasonerModel: v.GetString(keyLLMReasonerModel),
		LLMTimeout:       time.Duration(v.GetInt(keyLLMTimeoutMS)) * time.Millisecond,
		MaxRetries:       v.GetInt(keyMaxRetryCount),
		SQLTimeout:       time.Duration(v.GetInt(keySQLTimeout)) * time.Second,
		MemoryMaxHistory: v.GetInt(keyMemoryMaxHistory),
		SchemaMaxChars:   v.GetInt(keySchemaMaxChars),
		ResultMaxRows:    v.GetInt(keyResultMaxRows),
		DirectQuery:      v.GetBool(keyDirectQuery),
		SQLPolicyFile:    v.GetString(keySQLPolicyFile),
		DefaultDatabase:  v.GetString(keyDefaultDatabase),
		Databases:        databases,
		PingInterval:     time.Duration(v.GetInt(keyWSPingMS)) * time.Millisecond,
		WriteTimeout:     time.Duration(v.GetInt(keyWSWriteMS)) * time.Millisecond,
		ReadTimeout:      time.Duration(v.GetInt(keyWSReadMS)) * time.Millisecond,
		MaxMessageSize:   v.GetInt64(keyWSMaxMessageSize),
		LogLevel:         v.GetString(keyLogLevel),
		LogFormat:        v.GetString(keyLogFormat),
	}
	if len(cfg.Databases) == 0 {
		cfg.Databases = map[string]database.Config{
			DefaultDatabaseKey: {Type: database.TypeSQLite, Name: "Business", Path: "data/business.db"},
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileDatabases is the databases section of the config file. It is decoded with yaml directly
// because viper folds map keys to lower case.
type fileDatabases struct {
	Databases map[string]database.Config `yaml:"databases"`
}

func loadDatabases(path string) (map[string]database.Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var f fileDatabases
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("parse databases: %w", err)
	}
	return f.Databases, nil
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	if c.MaxRetries < 0 {
		return errors.New("max retry count must not be negative")
	}
	for key, db := range c.Databases {
		if !database.Supported(db.Type) {
			return fmt.Errorf("database %q: unsupported type %q", key, db.Type)
		}
	}
	if _, ok := c.Databases[c.DefaultDatabase]; !ok {
		return fmt.Errorf("default database %q is not declared", c.DefaultDatabase)
	}
	return nil
}

// LLM returns the client settings.
func (c *Config) LLM() llm.Config {
	return llm.Config{
		BaseURL:       c.LLMBaseURL,
		APIKey:        c.LLMAPIKey,
		ChatModel:     c.LLMChatModel,
		ReasonerModel: c.LLMReasonerModel,
		Timeout:       c.LLMTimeout,
	}
}

// Registry registers every declared database.
func (c *Config) Registry() (*database.Registry, error) {
	reg := database.NewRegistry()
	for key, db := range c.Databases {
		if err := reg.Register(key, db); err != nil {
			return nil, fmt.Errorf("register database %q: %w", key, err)
		}
	}
	return reg, nil
}
