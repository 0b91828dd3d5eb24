package config

// Config is the full on-disk configuration (JSON or YAML).
//
// All duration-typed knobs are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	API      APIConfig      `json:"api"`

	Queue    QueueConfig    `json:"queue"`
	Dispatch DispatchConfig `json:"dispatch"`
	Monitor  MonitorConfig  `json:"monitor"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`

	// Catalog tunes intake parsing and resolution.
	Catalog CatalogConfig `json:"catalog"`

	// Provider points at the upstream hosting provider endpoints.
	Provider ProviderConfig `json:"provider"`
}

// ProviderConfig configures the upstream availability and order endpoints.
type ProviderConfig struct {
	// CatalogURL is the availability API base, e.g.
	// "https://ca.api.example.com/v1/dedicated/server".
	CatalogURL string `json:"catalog_url"`
	// OrderURL is the order placement endpoint.
	OrderURL string `json:"order_url"`
	APIKey   string `json:"api_key,omitempty"`
	// Subsidiary selects the regional catalog (e.g. "IE").
	Subsidiary string `json:"subsidiary,omitempty"`
	Timeout    string `json:"timeout,omitempty"` // default "15s"
}

type TelegramConfig struct {
	Enabled        bool    `json:"enabled"`
	Token          string  `json:"token"`
	AllowedUserIDs []int64 `json:"allowed_user_ids"`
	// ChatID is the default notification target chat.
	ChatID int64 `json:"chat_id"`
	// PollTimeout is the long-poll timeout (duration string).
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// APIConfig controls the local HTTP surface consumed by the dashboard.
//
// Security note: prefer binding to localhost. The optional api_key is
// checked against the X-API-Key header on every /api route.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:19998"
	APIKey  string `json:"api_key,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// QueueConfig bounds per-task retry intervals.
//
// A task's retry interval is fixed for its lifetime (operators tune it per
// task against provider rate limits); these bounds clamp it at creation.
type QueueConfig struct {
	RetryIntervalMin     string `json:"retry_interval_min,omitempty"`     // default "3s"
	RetryIntervalMax     string `json:"retry_interval_max,omitempty"`     // default "10m"
	RetryIntervalDefault string `json:"retry_interval_default,omitempty"` // default "30s"

	// MaxRetries, when > 0, fails a task after that many transient failures.
	// 0 means retry until paused or removed.
	MaxRetries int `json:"max_retries,omitempty"`
}

type DispatchConfig struct {
	Enabled        bool   `json:"enabled"`
	Workers        int    `json:"workers,omitempty"`       // default 4
	QueueSize      int    `json:"queue_size,omitempty"`    // default 64
	ScanInterval   string `json:"scan_interval,omitempty"` // default "1s"
	AttemptTimeout string `json:"attempt_timeout,omitempty"`
	// RatePerSec bounds outbound purchase attempts across all workers.
	RatePerSec int `json:"rate_per_sec,omitempty"` // default 2
}

type MonitorConfig struct {
	Enabled bool `json:"enabled"`
	// PollInterval is the fixed global tick (default "5s").
	PollInterval string `json:"poll_interval,omitempty"`
	// HistorySize caps the per-subscription change log (default 100).
	HistorySize int `json:"history_size,omitempty"`
	// Pace is the delay between subscription checks within one tick
	// (default "1s"), to avoid hammering the catalog endpoint.
	Pace string `json:"pace,omitempty"`
}

// NotifierConfig controls the async notification pipeline. If the whole
// section is omitted the notifier defaults to enabled.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	DedupWindow   string `json:"dedup_window"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./snipebot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type CatalogConfig struct {
	// Datacenters is the known datacenter code set used by the command
	// parser to disambiguate tokens. Empty means the built-in default set.
	Datacenters []string `json:"datacenters,omitempty"`
}
