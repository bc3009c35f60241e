package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"avbstream/pkg/avtp"
	"avbstream/pkg/retry"
	"avbstream/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Stream struct {
		Role               string        `yaml:"role"`
		Interface          string        `yaml:"interface"`
		StreamUID          uint8         `yaml:"stream_uid"`
		EndpointID         uint8         `yaml:"endpoint_id"`
		DestMAC            string        `yaml:"dest_mac"` // talker only; empty derives it from the IDs
		Channels           int           `yaml:"channels"`
		SampleRate         uint32        `yaml:"sample_rate"`
		SamplesPerFrame    int           `yaml:"samples_per_frame"`
		RingCapacity       int           `yaml:"ring_capacity"` // bytes per channel
		PrerollLowWater    float64       `yaml:"preroll_low_water"`
		PresentationOffset time.Duration `yaml:"presentation_offset"`
		PollTimeout        time.Duration `yaml:"poll_timeout"`
	} `yaml:"stream"`

	Mrp struct {
		DaemonAddress string        `yaml:"daemon_address"`
		TrafficClass  string        `yaml:"traffic_class"`
		DomainTimeout time.Duration `yaml:"domain_timeout"`
		ReadyTimeout  time.Duration `yaml:"ready_timeout"`
		LeaveTimeout  time.Duration `yaml:"leave_timeout"`
		PollInterval  time.Duration `yaml:"poll_interval"`
		LatencyNS     uint32        `yaml:"latency_ns"`
		AwaitListener bool          `yaml:"await_listener"`
		ConnectRetry  retry.Config  `yaml:"connect_retry"`
	} `yaml:"mrp"`

	MediaClock struct {
		FixedTimestamp bool          `yaml:"fixed_timestamp"`
		ClockSkewPPB   int32         `yaml:"clock_skew_ppb"`
		TxTick         time.Duration `yaml:"tx_tick"`
	} `yaml:"media_clock"`

	Audio struct {
		PeriodFrames int     `yaml:"period_frames"`
		Source       string  `yaml:"source"` // silence or tone
		ToneHz       float64 `yaml:"tone_hz"`
		Gain         float64 `yaml:"gain"`
	} `yaml:"audio"`

	Transport struct {
		Breaker struct {
			Enabled             bool          `yaml:"enabled"`
			FailureThreshold    int           `yaml:"failure_threshold"`
			SuccessThreshold    int           `yaml:"success_threshold"`
			Timeout             time.Duration `yaml:"timeout"`
			MaxRequestsHalfOpen int           `yaml:"max_requests_half_open"`
		} `yaml:"breaker"`
		CaptureFile    string `yaml:"capture_file"`
		ReplayFile     string `yaml:"replay_file"` // listener reads frames from here instead of the interface
		ReplayRealtime bool   `yaml:"replay_realtime"`
		ReplayLoop     bool   `yaml:"replay_loop"`
	} `yaml:"transport"`

	Server struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Monitoring struct {
		PrometheusEnabled   bool          `yaml:"prometheus_enabled"`
		MetricsInterval     time.Duration `yaml:"metrics_interval"`
		WarnInterval        time.Duration `yaml:"warn_interval"`
		StatusInterval      time.Duration `yaml:"status_interval"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled   bool          `yaml:"enabled"`
		Address   string        `yaml:"address"`
		Password  string        `yaml:"password"`
		DB        int           `yaml:"db"`
		PoolSize  int           `yaml:"pool_size"`
		KeyPrefix string        `yaml:"key_prefix"`
		StatusTTL time.Duration `yaml:"status_ttl"`
		// ClaimTTL bounds how long a crashed talker keeps its stream ID.
		ClaimTTL  time.Duration `yaml:"claim_ttl"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Stream
	if err := validation.ValidateRole(c.Stream.Role); err != nil {
		return fmt.Errorf("stream.role: %w", err)
	}
	if c.Transport.ReplayFile == "" || c.Stream.Role == "talker" {
		if err := validation.ValidateInterfaceName(c.Stream.Interface); err != nil {
			return fmt.Errorf("stream.interface: %w", err)
		}
	}
	if c.Stream.DestMAC != "" {
		if err := validation.ValidateMulticastMAC(c.Stream.DestMAC); err != nil {
			return fmt.Errorf("stream.dest_mac: %w", err)
		}
	}
	if err := validation.ValidateChannels(c.Stream.Channels); err != nil {
		return fmt.Errorf("stream.channels: %w", err)
	}
	if err := validation.ValidateSampleRate(c.Stream.SampleRate); err != nil {
		return fmt.Errorf("stream.sample_rate: %w", err)
	}
	if c.Stream.SamplesPerFrame <= 0 {
		return fmt.Errorf("stream.samples_per_frame must be > 0")
	}
	if err := validation.ValidateFrameSize(avtp.FrameSize(c.Stream.Channels, c.Stream.SamplesPerFrame)); err != nil {
		return fmt.Errorf("stream.samples_per_frame: %w", err)
	}
	block := avtp.SampleSize * c.Stream.SamplesPerFrame
	if c.Stream.RingCapacity < 2*block {
		return fmt.Errorf("stream.ring_capacity must hold at least two packets (%d bytes)", 2*block)
	}
	if c.Stream.RingCapacity%avtp.SampleSize != 0 {
		return fmt.Errorf("stream.ring_capacity must be a multiple of %d", avtp.SampleSize)
	}
	if err := validation.ValidateOpenFraction(c.Stream.PrerollLowWater, "stream.preroll_low_water"); err != nil {
		return err
	}
	if c.Stream.PresentationOffset < 0 {
		return fmt.Errorf("stream.presentation_offset must be >= 0")
	}
	if err := validation.ValidatePositiveDuration(c.Stream.PollTimeout, "stream.poll_timeout"); err != nil {
		return err
	}

	// MRP
	if err := validation.ValidateHostPort(c.Mrp.DaemonAddress); err != nil {
		return fmt.Errorf("mrp.daemon_address: %w", err)
	}
	if err := validation.ValidateTrafficClass(c.Mrp.TrafficClass); err != nil {
		return fmt.Errorf("mrp.traffic_class: %w", err)
	}
	if err := validation.ValidatePositiveDuration(c.Mrp.DomainTimeout, "mrp.domain_timeout"); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration(c.Mrp.ReadyTimeout, "mrp.ready_timeout"); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration(c.Mrp.PollInterval, "mrp.poll_interval"); err != nil {
		return err
	}
	if c.Mrp.ConnectRetry.Enabled && c.Mrp.ConnectRetry.MaxAttempts < 0 {
		return fmt.Errorf("mrp.connect_retry.max_attempts must be >= 0")
	}

	// Media clock
	if c.MediaClock.TxTick < 0 {
		return fmt.Errorf("media_clock.tx_tick must be >= 0")
	}

	// Audio
	if c.Audio.PeriodFrames <= 0 {
		return fmt.Errorf("audio.period_frames must be > 0")
	}
	if c.Audio.Gain < 0 || c.Audio.Gain > 1 {
		return fmt.Errorf("audio.gain must be within [0,1]")
	}

	// Transport
	if c.Transport.Breaker.Enabled {
		if c.Transport.Breaker.FailureThreshold <= 0 {
			return fmt.Errorf("transport.breaker.failure_threshold must be > 0 when the breaker is enabled")
		}
		if c.Transport.Breaker.Timeout <= 0 {
			return fmt.Errorf("transport.breaker.timeout must be > 0 when the breaker is enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if err := validation.ValidateHostPort(c.Server.Address); err != nil {
			return fmt.Errorf("server.address: %w", err)
		}
		if c.Server.ReadTimeout <= 0 {
			return fmt.Errorf("server.read_timeout must be > 0")
		}
		if c.Server.WriteTimeout <= 0 {
			return fmt.Errorf("server.write_timeout must be > 0")
		}
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Monitoring
	if c.Monitoring.MetricsInterval <= 0 {
		return fmt.Errorf("monitoring.metrics_interval must be > 0")
	}
	if c.Monitoring.StatusInterval < 0 {
		return fmt.Errorf("monitoring.status_interval must be >= 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if err := validation.ValidatePositiveDuration(c.Redis.ClaimTTL, "redis.claim_ttl"); err != nil {
			return err
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if err := validation.ValidateURL(c.Tracing.JaegerURL); err != nil {
			return fmt.Errorf("tracing.jaeger_url: %w", err)
		}
		if err := validation.ValidateFraction(c.Tracing.SampleRate, "tracing.sample_rate"); err != nil {
			return err
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.applyEnvOverrides(); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults. The stream layout
// matches the two channel 48 kHz class A example endpoints.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Stream.Role = "listener"
	cfg.Stream.Interface = "eth0"
	cfg.Stream.StreamUID = 0x0e
	cfg.Stream.EndpointID = 0x80
	cfg.Stream.Channels = 2
	cfg.Stream.SampleRate = 48000
	cfg.Stream.SamplesPerFrame = 6
	cfg.Stream.RingCapacity = 32768
	cfg.Stream.PrerollLowWater = 0.25
	cfg.Stream.PresentationOffset = 2 * time.Millisecond
	cfg.Stream.PollTimeout = 100 * time.Millisecond

	cfg.Mrp.DaemonAddress = "127.0.0.1:7500"
	cfg.Mrp.TrafficClass = "A"
	cfg.Mrp.DomainTimeout = 5 * time.Second
	cfg.Mrp.ReadyTimeout = 60 * time.Second
	cfg.Mrp.LeaveTimeout = 2 * time.Second
	cfg.Mrp.PollInterval = 100 * time.Millisecond
	cfg.Mrp.LatencyNS = 3900
	cfg.Mrp.ConnectRetry = retry.DefaultConfig()

	cfg.MediaClock.FixedTimestamp = false
	cfg.MediaClock.TxTick = time.Millisecond

	cfg.Audio.PeriodFrames = 256
	cfg.Audio.Source = "silence"
	cfg.Audio.ToneHz = 1000
	cfg.Audio.Gain = 0.5

	cfg.Transport.Breaker.Enabled = true
	cfg.Transport.Breaker.FailureThreshold = 50
	cfg.Transport.Breaker.SuccessThreshold = 5
	cfg.Transport.Breaker.Timeout = time.Second
	cfg.Transport.Breaker.MaxRequestsHalfOpen = 5

	cfg.Server.Enabled = true
	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Server.ShutdownTimeout = 5 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsInterval = 10 * time.Second
	cfg.Monitoring.WarnInterval = 10 * time.Second
	cfg.Monitoring.StatusInterval = 2 * time.Second
	cfg.Monitoring.HealthCheckInterval = 15 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.KeyPrefix = "avbstream:"
	cfg.Redis.StatusTTL = time.Hour
	cfg.Redis.ClaimTTL = 15 * time.Second

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	if role := os.Getenv("AVBSTREAM_ROLE"); role != "" {
		c.Stream.Role = role
	}
	if ifname := os.Getenv("AVBSTREAM_INTERFACE"); ifname != "" {
		c.Stream.Interface = ifname
	}
	if addr := os.Getenv("AVBSTREAM_MRPD_ADDRESS"); addr != "" {
		c.Mrp.DaemonAddress = addr
	}
	if class := os.Getenv("AVBSTREAM_TRAFFIC_CLASS"); class != "" {
		c.Mrp.TrafficClass = class
	}
	if addr := os.Getenv("AVBSTREAM_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("AVBSTREAM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("AVBSTREAM_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if v := os.Getenv("AVBSTREAM_STREAM_UID"); v != "" {
		uid, err := strconv.ParseUint(v, 0, 8)
		if err != nil {
			return fmt.Errorf("AVBSTREAM_STREAM_UID: %w", err)
		}
		c.Stream.StreamUID = uint8(uid)
	}
	if v := os.Getenv("AVBSTREAM_ENDPOINT_ID"); v != "" {
		eid, err := strconv.ParseUint(v, 0, 8)
		if err != nil {
			return fmt.Errorf("AVBSTREAM_ENDPOINT_ID: %w", err)
		}
		c.Stream.EndpointID = uint8(eid)
	}
	return nil
}
