package utils

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/offsync/offsync/internal/constants"
	"github.com/offsync/offsync/pkg/file"
)

// LogConfig selects the zerolog level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// AgentConfig represents the structure of the device agent configuration file.
type AgentConfig struct {
	Log LogConfig `yaml:"log"`

	Identity struct {
		DeviceFile string `yaml:"device_file"` // Path to the device identity file
		Name       string `yaml:"name"`        // Display name sent on enrollment
		Model      string `yaml:"model"`       // Hardware model sent on enrollment
	} `yaml:"identity"`

	Security struct {
		CredentialsFile string `yaml:"credentials_file"` // Path to the encrypted device token
		AESKeyFile      string `yaml:"aes_key_file"`     // Path to the AES key file
	} `yaml:"security"`

	Server struct {
		BaseURL        string        `yaml:"base_url"`         // Backend base URL
		EnrollmentKey  string        `yaml:"enrollment_key"`   // Pre-shared key for POST /devices/enroll
		RequestTimeout time.Duration `yaml:"request_timeout"`  // Fixed per-request timeout
		MaxRetries     int           `yaml:"max_retries"`      // Automatic retries on network errors and 429
		RetryBaseDelay time.Duration `yaml:"retry_base_delay"` // First backoff step, doubled per retry
	} `yaml:"server"`

	Queue struct {
		Path string `yaml:"path"` // SQLite database file
	} `yaml:"queue"`

	Tracking struct {
		AutoStart       bool          `yaml:"auto_start"`        // Start tracking when the agent boots
		Mode            string        `yaml:"mode"`              // foreground or background
		Accuracy        string        `yaml:"accuracy"`          // high_accuracy or balanced_power
		FallbackTimeout time.Duration `yaml:"fallback_timeout"`  // GPS fallback arming delay
		CachedMaxAge    time.Duration `yaml:"cached_max_age"`    // One-shot cached position age
		FreshFixTimeout time.Duration `yaml:"fresh_fix_timeout"` // One-shot fresh request timeout
	} `yaml:"tracking"`

	Location struct {
		GPSDevicePort     string        `yaml:"gps_device_port"` // UNIX Port where the GPS sensor is mounted
		GPSDeviceBaudRate int           `yaml:"gps_baud_rate"`   // The Baud rate for GPS sensor
		MapsAPIKey        string        `yaml:"maps_api_key"`    // Google maps API Key
		ModemIndex        int           `yaml:"modem_index"`     // mmcli modem used for cell tower lookups
		PollInterval      time.Duration `yaml:"poll_interval"`   // Network geolocation polling interval
	} `yaml:"location"`

	Sync struct {
		Interval         time.Duration `yaml:"interval"`          // Periodic sync trigger
		BatchSize        int           `yaml:"batch_size"`        // Samples per request
		MaxFailures      int           `yaml:"max_failures"`      // Circuit breaker threshold
		CaptureThreshold int           `yaml:"capture_threshold"` // New captures that trigger a sync
	} `yaml:"sync"`

	Network struct {
		PollInterval time.Duration `yaml:"poll_interval"` // Interface state polling interval
	} `yaml:"network"`

	MQTT struct {
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID
		Username      string `yaml:"username"`       // Optional broker username
		Password      string `yaml:"password"`       // Optional broker password
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate
	} `yaml:"mqtt"`

	Services struct {
		LiveFeed struct {
			Enabled bool          `yaml:"enabled"` // Publish every captured sample over MQTT
			Topic   string        `yaml:"topic"`   // Topic prefix; the hardware id is appended
			QOS     int           `yaml:"qos"`     // MQTT QoS level for live feed messages
			Timeout time.Duration `yaml:"timeout"` // Publish acknowledgement timeout
		} `yaml:"live_feed"`

		Heartbeat struct {
			Enabled     bool          `yaml:"enabled"`      // Publish periodic health messages over MQTT
			Topic       string        `yaml:"topic"`        // Heartbeat topic
			Interval    time.Duration `yaml:"interval"`     // Time between heartbeats
			QOS         int           `yaml:"qos"`          // MQTT QoS level for heartbeats
			Timeout     time.Duration `yaml:"timeout"`      // Publish acknowledgement timeout
			HostMetrics bool          `yaml:"host_metrics"` // Include CPU, memory, goroutine and disk usage
		} `yaml:"heartbeat"`
	} `yaml:"services"`
}

// ServerConfig represents the structure of the backend configuration file.
type ServerConfig struct {
	Log LogConfig `yaml:"log"`

	HTTP struct {
		Addr         string        `yaml:"addr"`           // Listen address
		ReadTimeout  time.Duration `yaml:"read_timeout"`   // http.Server read timeout
		WriteTimeout time.Duration `yaml:"write_timeout"`  // http.Server write timeout
		MaxBodyBytes int64         `yaml:"max_body_bytes"` // Request body limit, 413 beyond
		RateLimit    struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"` // Sustained rate per device or IP
			Burst             int     `yaml:"burst"`               // Token bucket size
		} `yaml:"rate_limit"`
	} `yaml:"http"`

	Database struct {
		DSN             string        `yaml:"dsn"`               // Postgres connection string
		MaxOpenConns    int           `yaml:"max_open_conns"`    // Connection pool size
		MaxIdleConns    int           `yaml:"max_idle_conns"`    // Idle connections kept
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"` // Connection recycling
	} `yaml:"database"`

	Auth struct {
		MaxClockSkew  time.Duration `yaml:"max_clock_skew"` // Accepted timestamp distance
		ReplayWindow  time.Duration `yaml:"replay_window"`  // Nonce retention
		EnrollmentKey string        `yaml:"enrollment_key"` // Pre-shared enrollment key; empty disables enrollment
		BcryptCost    int           `yaml:"bcrypt_cost"`    // Cost for device token hashes
		ReadAPIKey    string        `yaml:"read_api_key"`   // Required x-api-key on read endpoints; empty leaves them open
	} `yaml:"auth"`

	Retention struct {
		Enabled bool          `yaml:"enabled"`  // Run the daily retention job
		Horizon time.Duration `yaml:"horizon"`  // Location points older than this are deleted
		RunHour *int          `yaml:"run_hour"` // UTC hour of the daily run
	} `yaml:"retention"`
}

// LoadConfig loads the agent YAML configuration from the specified file.
// It returns a pointer to the AgentConfig struct and an error if loading fails.
func LoadConfig(filename string, fileClient file.FileOperations) (*AgentConfig, error) {
	var config AgentConfig
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", filename, err)
	}

	config.setDefaults()
	return &config, nil
}

// LoadServerConfig loads the backend YAML configuration and applies environment overrides.
func LoadServerConfig(filename string, fileClient file.FileOperations) (*ServerConfig, error) {
	var config ServerConfig
	if filename != "" {
		if err := fileClient.ReadYamlFile(filename, &config); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", filename, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.setDefaults()
	return &config, nil
}

func (c *AgentConfig) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Identity.DeviceFile == "" {
		c.Identity.DeviceFile = "data/identity.json"
	}
	if c.Security.CredentialsFile == "" {
		c.Security.CredentialsFile = "data/credentials.enc"
	}
	if c.Security.AESKeyFile == "" {
		c.Security.AESKeyFile = "data/aes.key"
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = constants.DefaultRequestTimeout
	}
	if c.Server.MaxRetries < 0 {
		c.Server.MaxRetries = 0
	} else if c.Server.MaxRetries == 0 {
		c.Server.MaxRetries = constants.DefaultHTTPRetries
	}
	if c.Server.RetryBaseDelay <= 0 {
		c.Server.RetryBaseDelay = constants.DefaultRetryBaseDelay
	}
	if c.Queue.Path == "" {
		c.Queue.Path = "data/queue.db"
	}
	if c.Tracking.Mode == "" {
		c.Tracking.Mode = "foreground"
	}
	if c.Tracking.Accuracy == "" {
		c.Tracking.Accuracy = "high_accuracy"
	}
	if c.Tracking.FallbackTimeout <= 0 {
		c.Tracking.FallbackTimeout = constants.DefaultFallbackTimeout
	}
	if c.Tracking.CachedMaxAge <= 0 {
		c.Tracking.CachedMaxAge = constants.DefaultCachedMaxAge
	}
	if c.Tracking.FreshFixTimeout <= 0 {
		c.Tracking.FreshFixTimeout = constants.DefaultFreshFixTimeout
	}
	if c.Location.GPSDeviceBaudRate == 0 {
		c.Location.GPSDeviceBaudRate = 9600
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = constants.DefaultSyncInterval
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = constants.DefaultSyncBatchSize
	}
	if c.Sync.MaxFailures <= 0 {
		c.Sync.MaxFailures = constants.DefaultMaxFailures
	}
	if c.Sync.CaptureThreshold <= 0 {
		c.Sync.CaptureThreshold = constants.DefaultCaptureThreshold
	}
	if c.Network.PollInterval <= 0 {
		c.Network.PollInterval = 5 * time.Second
	}
	if c.Services.LiveFeed.Topic == "" {
		c.Services.LiveFeed.Topic = "devices/location"
	}
	if c.Services.LiveFeed.Timeout <= 0 {
		c.Services.LiveFeed.Timeout = 5 * time.Second
	}
	if c.Services.Heartbeat.Topic == "" {
		c.Services.Heartbeat.Topic = constants.DefaultHeartbeatTopic
	}
	if c.Services.Heartbeat.Interval <= 0 {
		c.Services.Heartbeat.Interval = constants.DefaultHeartbeatInterval
	}
	if c.Services.Heartbeat.Timeout <= 0 {
		c.Services.Heartbeat.Timeout = 5 * time.Second
	}
}

func (c *ServerConfig) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = 1 << 20
	}
	if c.HTTP.RateLimit.RequestsPerSecond <= 0 {
		c.HTTP.RateLimit.RequestsPerSecond = 5
	}
	if c.HTTP.RateLimit.Burst <= 0 {
		c.HTTP.RateLimit.Burst = 20
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Auth.MaxClockSkew <= 0 {
		c.Auth.MaxClockSkew = constants.DefaultMaxClockSkew
	}
	if c.Auth.ReplayWindow <= 0 {
		c.Auth.ReplayWindow = constants.DefaultReplayWindow
	}
	// A signature stays acceptable for skew on either side of its timestamp.
	if c.Auth.ReplayWindow < 2*c.Auth.MaxClockSkew {
		c.Auth.ReplayWindow = 2 * c.Auth.MaxClockSkew
	}
	if c.Auth.BcryptCost <= 0 {
		c.Auth.BcryptCost = 10
	}
	if c.Retention.Horizon <= 0 {
		c.Retention.Horizon = constants.DefaultRetention
	}
	if c.Retention.RunHour == nil || *c.Retention.RunHour < 0 || *c.Retention.RunHour > 23 {
		hour := 2
		c.Retention.RunHour = &hour
	}
}

// applyEnv lets deployment secrets override the file: DATABASE_URL, ENROLLMENT_KEY,
// READ_API_KEY, PORT, RETENTION_DAYS.
func (c *ServerConfig) applyEnv() error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("ENROLLMENT_KEY"); v != "" {
		c.Auth.EnrollmentKey = v
	}
	if v := os.Getenv("READ_API_KEY"); v != "" {
		c.Auth.ReadAPIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.HTTP.Addr = ":" + v
	}
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return fmt.Errorf("invalid RETENTION_DAYS %q", v)
		}
		c.Retention.Horizon = time.Duration(days) * 24 * time.Hour
	}
	return nil
}
