package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/lorawan-server/lorawan-analytics/pkg/lorawan"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
	JWT      JWTConfig      `yaml:"jwt"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Energy   EnergyConfig   `yaml:"energy"`
	Bands    []BandConfig   `yaml:"bands"`
	NATS     NATSConfig     `yaml:"nats"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// JWTConfig holds the secret inbound bearer tokens are checked against.
// Authentication is disabled when Secret is empty.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// UpstreamConfig locates the LoRaDB frame query service.
type UpstreamConfig struct {
	URL       string        `yaml:"url"`
	APIToken  string        `yaml:"api_token"`
	JWTSecret string        `yaml:"jwt_secret"`
	Subject   string        `yaml:"subject"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxFrames int           `yaml:"max_frames"`
}

// Enabled reports whether an upstream service is configured.
func (u UpstreamConfig) Enabled() bool {
	return u.URL != ""
}

// EnergyConfig is the default radio power model.
type EnergyConfig struct {
	TxCurrentMa float64 `yaml:"tx_current_ma"`
	Voltage     float64 `yaml:"voltage"`
}

// BandConfig overrides one frequency range of the band classifier.
type BandConfig struct {
	Band   string  `yaml:"band"`
	MinMHz float64 `yaml:"min_mhz"`
	MaxMHz float64 `yaml:"max_mhz"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Subject           string        `yaml:"subject"`
	QueueGroup        string        `yaml:"queue_group"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents the bundle publisher configuration
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// MetricsConfig represents Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies environment overrides and defaults
// and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}

	if url := os.Getenv("LORADB_URL"); url != "" {
		c.Upstream.URL = url
	}

	if token := os.Getenv("LORADB_API_TOKEN"); token != "" {
		c.Upstream.APIToken = token
	}

	if secret := os.Getenv("LORADB_JWT_SECRET"); secret != "" {
		c.Upstream.JWTSecret = secret
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}
}

func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "lorawan-analytics"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 8 << 20
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 15 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 60 * time.Second
	}
	if len(c.API.AllowedOrigins) == 0 {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "lorawan-analytics"
	}

	if c.Upstream.Subject == "" {
		c.Upstream.Subject = "lorawan-analytics"
	}
	if c.Upstream.TokenTTL == 0 {
		c.Upstream.TokenTTL = 5 * time.Minute
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 30 * time.Second
	}
	if c.Upstream.MaxFrames == 0 {
		c.Upstream.MaxFrames = 10000
	}

	if c.Energy.TxCurrentMa == 0 {
		c.Energy.TxCurrentMa = 40
	}
	if c.Energy.Voltage == 0 {
		c.Energy.Voltage = 3.3
	}

	if c.NATS.Subject == "" {
		c.NATS.Subject = "analytics.request"
	}
	if c.NATS.QueueGroup == "" {
		c.NATS.QueueGroup = "analytics"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "lorawan-analytics"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "lorawan/analytics"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("%w: api.port %d out of range", ErrInvalidConfig, c.API.Port)
	}
	if c.API.MaxBodyBytes < 0 {
		return fmt.Errorf("%w: api.max_body_bytes must be positive", ErrInvalidConfig)
	}
	if c.Energy.TxCurrentMa < 0 || c.Energy.Voltage < 0 {
		return fmt.Errorf("%w: energy values must not be negative", ErrInvalidConfig)
	}
	if c.Upstream.MaxFrames < 0 {
		return fmt.Errorf("%w: upstream.max_frames must be positive", ErrInvalidConfig)
	}
	if c.Upstream.Enabled() && c.Upstream.APIToken == "" && c.Upstream.JWTSecret == "" {
		return fmt.Errorf("%w: upstream.url requires api_token or jwt_secret", ErrInvalidConfig)
	}
	if c.Upstream.APIToken != "" && !strings.HasPrefix(c.Upstream.APIToken, "ldb_") {
		return fmt.Errorf("%w: upstream.api_token must start with ldb_", ErrInvalidConfig)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalidConfig)
	}
	for i, b := range c.Bands {
		switch lorawan.Band(b.Band) {
		case lorawan.BandEU868, lorawan.BandUS915, lorawan.BandAS923, lorawan.BandCN470:
		default:
			return fmt.Errorf("%w: bands[%d]: unknown band %q", ErrInvalidConfig, i, b.Band)
		}
		if b.MinMHz <= 0 || b.MaxMHz < b.MinMHz {
			return fmt.Errorf("%w: bands[%d]: invalid range %.3f-%.3f MHz", ErrInvalidConfig, i, b.MinMHz, b.MaxMHz)
		}
	}
	return nil
}

// BandPlan returns the classifier described by the bands section, or
// lorawan.DefaultBandPlan when the section is empty.
func (c *Config) BandPlan() lorawan.BandPlan {
	if len(c.Bands) == 0 {
		return lorawan.DefaultBandPlan
	}
	plan := lorawan.DefaultBandPlan
	plan.Ranges = make([]lorawan.BandRange, 0, len(c.Bands))
	for _, b := range c.Bands {
		plan.Ranges = append(plan.Ranges, lorawan.BandRange{
			Band:  lorawan.Band(b.Band),
			MinHz: b.MinMHz * 1e6,
			MaxHz: b.MaxMHz * 1e6,
		})
	}
	return plan
}

// Address returns the listen address of the REST API.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// PrintConfigSummary prints the effective configuration without secrets.
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== LoRaWAN Analytics Configuration ===\n")
	fmt.Printf("Server: %s v%s\n", c.Server.Name, c.Server.Version)
	fmt.Printf("API: %s (body limit %s)\n", c.Address(), humanize.IBytes(uint64(c.API.MaxBodyBytes)))
	fmt.Printf("Auth: %s\n", enabled(c.JWT.Secret != ""))

	if c.Upstream.Enabled() {
		token := "minted JWT"
		if c.Upstream.APIToken != "" {
			token = "API token"
		}
		fmt.Printf("Upstream: %s (%s, up to %s frames)\n", c.Upstream.URL, token, humanize.Comma(int64(c.Upstream.MaxFrames)))
	} else {
		fmt.Printf("Upstream: disabled\n")
	}

	fmt.Printf("Energy model: %.1f mA at %.2f V\n", c.Energy.TxCurrentMa, c.Energy.Voltage)
	for _, r := range c.BandPlan().Ranges {
		fmt.Printf("  Band %s: %.3f-%.3f MHz\n", r.Band, r.MinHz/1e6, r.MaxHz/1e6)
	}

	if c.NATS.URL != "" {
		fmt.Printf("NATS: %s subject=%s queue=%s\n", c.NATS.URL, c.NATS.Subject, c.NATS.QueueGroup)
	}
	if c.MQTT.Broker != "" {
		fmt.Printf("MQTT: %s topic=%s/<devEui>/metrics qos=%d\n", c.MQTT.Broker, c.MQTT.TopicPrefix, c.MQTT.QoS)
	}
	if c.Metrics.Enabled {
		fmt.Printf("Metrics: %s\n", c.Metrics.Path)
	}
	fmt.Printf("=======================================\n")
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
