package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type ReceiptSource struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	Method   string `yaml:"method"`
}

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		DraftTTL      string `yaml:"draft_ttl"`
		TTL           string `yaml:"ttl"`
		CacheTTL      string `yaml:"cache_ttl"`
		QuestionCount int    `yaml:"question_count"`
	} `yaml:"quiz"`
	Scheduler struct {
		MaxQueue int `yaml:"max_queue"`
	} `yaml:"scheduler"`
	Chain struct {
		RelayURL        string          `yaml:"relay_url"`
		ReceiptSources  []ReceiptSource `yaml:"receipt_sources"`
		FactoryAddress  string          `yaml:"factory_address"`
		EventTopic      string          `yaml:"event_topic"`
		ContractType    string          `yaml:"contract_type"`
		MaxRetries      int             `yaml:"max_retries"`
		RetryDelay      string          `yaml:"retry_delay"`
		WalletPolls     int             `yaml:"wallet_polls"`
		WalletPollDelay string          `yaml:"wallet_poll_delay"`
		// UnsettledMode skips on-chain settlement and persists quizzes
		// visibly flagged. Never enable outside development.
		UnsettledMode bool `yaml:"unsettled_mode"`
	} `yaml:"chain"`
	Log struct {
		Development bool `yaml:"development"`
	} `yaml:"log"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
