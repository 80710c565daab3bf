/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5003"

	defaultWebhookQueue    = "settle_webhooks"
	defaultPrewarmQueue    = "settle_prewarm"
	defaultRealtimeChannel = "settle:realtime"
	defaultMonitoringPort  = "5004"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"SETTLE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"SETTLE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"SETTLE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"SETTLE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"SETTLE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"SETTLE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"SETTLE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"SETTLE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"SETTLE_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	WebhookQueue    string `json:"webhook_queue" envconfig:"SETTLE_QUEUE_WEBHOOK"`
	PrewarmQueue    string `json:"prewarm_queue" envconfig:"SETTLE_QUEUE_PREWARM"`
	RealtimeChannel string `json:"realtime_channel" envconfig:"SETTLE_QUEUE_REALTIME_CHANNEL"`
	MonitoringPort  string `json:"monitoring_port" envconfig:"SETTLE_QUEUE_MONITORING_PORT"`
}

// ExtractionConfig controls the external proof extraction provider and the
// cache placed in front of it.
type ExtractionConfig struct {
	ProviderURL     string  `json:"provider_url" envconfig:"SETTLE_EXTRACTION_PROVIDER_URL"`
	APIKey          string  `json:"api_key" envconfig:"SETTLE_EXTRACTION_API_KEY"`
	TimeoutSeconds  int     `json:"timeout_seconds" envconfig:"SETTLE_EXTRACTION_TIMEOUT_SECONDS"`
	LockTTLSeconds  int     `json:"lock_ttl_seconds" envconfig:"SETTLE_EXTRACTION_LOCK_TTL_SECONDS"`
	CacheTTLMinutes int     `json:"cache_ttl_minutes" envconfig:"SETTLE_EXTRACTION_CACHE_TTL_MINUTES"`
	MinConfidence   float64 `json:"min_confidence" envconfig:"SETTLE_EXTRACTION_MIN_CONFIDENCE"`
	BreakerFailures uint32  `json:"breaker_failures" envconfig:"SETTLE_EXTRACTION_BREAKER_FAILURES"`
	BreakerCooldown int     `json:"breaker_cooldown_seconds" envconfig:"SETTLE_EXTRACTION_BREAKER_COOLDOWN_SECONDS"`
}

type SettlementConfig struct {
	MaxRetryAttempts  uint64 `json:"max_retry_attempts" envconfig:"SETTLE_SETTLEMENT_MAX_RETRY_ATTEMPTS"`
	InitialBackoffMs  int    `json:"initial_backoff_ms" envconfig:"SETTLE_SETTLEMENT_INITIAL_BACKOFF_MS"`
	MaxElapsedSeconds int    `json:"max_elapsed_seconds" envconfig:"SETTLE_SETTLEMENT_MAX_ELAPSED_SECONDS"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"SETTLE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"SETTLE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"SETTLE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"SETTLE_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"SETTLE_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"SETTLE_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"SETTLE_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Queue           QueueConfig      `json:"queue"`
	Extraction      ExtractionConfig `json:"extraction"`
	Settlement      SettlementConfig `json:"settlement"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("settle", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called settle.json with your config ❌")
	}
	return c, nil
}

// ExtractionTimeout is the upper bound for a single provider call.
func (cnf *Configuration) ExtractionTimeout() time.Duration {
	if cnf.Extraction.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(cnf.Extraction.TimeoutSeconds) * time.Second
}

// ExtractionLockTTL is how long the per-key extraction lock may be held. It is
// always longer than the provider timeout so the lock outlives the call it guards.
func (cnf *Configuration) ExtractionLockTTL() time.Duration {
	ttl := time.Duration(cnf.Extraction.LockTTLSeconds) * time.Second
	if ttl <= cnf.ExtractionTimeout() {
		return cnf.ExtractionTimeout() + 10*time.Second
	}
	return ttl
}

func (cnf *Configuration) ExtractionCacheTTL() time.Duration {
	if cnf.Extraction.CacheTTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(cnf.Extraction.CacheTTLMinutes) * time.Minute
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Settle Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Extraction.ProviderURL = strings.TrimSpace(cnf.Extraction.ProviderURL)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.Queue.applyDefaults()
	cnf.Extraction.applyDefaults()
	cnf.Settlement.applyDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (q *QueueConfig) applyDefaults() {
	if q.WebhookQueue == "" {
		q.WebhookQueue = defaultWebhookQueue
	}
	if q.PrewarmQueue == "" {
		q.PrewarmQueue = defaultPrewarmQueue
	}
	if q.RealtimeChannel == "" {
		q.RealtimeChannel = defaultRealtimeChannel
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = defaultMonitoringPort
	}
}

func (e *ExtractionConfig) applyDefaults() {
	if e.TimeoutSeconds <= 0 {
		e.TimeoutSeconds = 30
	}
	if e.MinConfidence <= 0 {
		e.MinConfidence = 0.7
	}
	if e.BreakerFailures == 0 {
		e.BreakerFailures = 5
	}
	if e.BreakerCooldown <= 0 {
		e.BreakerCooldown = 60
	}
	if e.ProviderURL == "" {
		log.Println("Warning: extraction provider url is empty. Proof extraction calls will fail.")
	}
}

func (s *SettlementConfig) applyDefaults() {
	if s.MaxRetryAttempts == 0 {
		s.MaxRetryAttempts = 3
	}
	if s.InitialBackoffMs <= 0 {
		s.InitialBackoffMs = 50
	}
	if s.MaxElapsedSeconds <= 0 {
		s.MaxElapsedSeconds = 5
	}
}

// MockConfig sets a mock configuration for testing purposes. Optional sections
// receive their defaults; required fields are left as given.
func MockConfig(mockConfig *Configuration) {
	mockConfig.Queue.applyDefaults()
	mockConfig.Extraction.applyDefaults()
	mockConfig.Settlement.applyDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
