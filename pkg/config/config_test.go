package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"avbstream/pkg/avtp"
	"avbstream/pkg/ringbuffer"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
	if cfg.Mrp.DaemonAddress != "127.0.0.1:7500" {
		t.Errorf("unexpected default mrpd address %s", cfg.Mrp.DaemonAddress)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "unknown role",
			mutate: func(c *Config) { c.Stream.Role = "bridge" },
		},
		{
			name:   "missing interface",
			mutate: func(c *Config) { c.Stream.Interface = "" },
		},
		{
			name:   "unicast destination",
			mutate: func(c *Config) { c.Stream.DestMAC = "00:1b:21:01:02:03" },
		},
		{
			name:   "zero channels",
			mutate: func(c *Config) { c.Stream.Channels = 0 },
		},
		{
			name:   "unsupported rate",
			mutate: func(c *Config) { c.Stream.SampleRate = 22050 },
		},
		{
			name:   "frame larger than mtu",
			mutate: func(c *Config) { c.Stream.Channels = 64; c.Stream.SamplesPerFrame = 8 },
		},
		{
			name:   "ring smaller than two packets",
			mutate: func(c *Config) { c.Stream.RingCapacity = 40 },
		},
		{
			name:   "ring not sample aligned",
			mutate: func(c *Config) { c.Stream.RingCapacity = 32770 },
		},
		{
			name:   "preroll out of range",
			mutate: func(c *Config) { c.Stream.PrerollLowWater = 1.5 },
		},
		{
			name:   "preroll of the whole ring",
			mutate: func(c *Config) { c.Stream.PrerollLowWater = 1 },
		},
		{
			name:   "bad daemon address",
			mutate: func(c *Config) { c.Mrp.DaemonAddress = "localhost" },
		},
		{
			name:   "bad traffic class",
			mutate: func(c *Config) { c.Mrp.TrafficClass = "C" },
		},
		{
			name:   "zero domain timeout",
			mutate: func(c *Config) { c.Mrp.DomainTimeout = 0 },
		},
		{
			name:   "zero poll interval",
			mutate: func(c *Config) { c.Mrp.PollInterval = 0 },
		},
		{
			name:   "gain above unity",
			mutate: func(c *Config) { c.Audio.Gain = 2 },
		},
		{
			name:   "breaker without threshold",
			mutate: func(c *Config) { c.Transport.Breaker.FailureThreshold = 0 },
		},
		{
			name:   "redis without address",
			mutate: func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" },
		},
		{
			name:   "redis without claim ttl",
			mutate: func(c *Config) { c.Redis.Enabled = true; c.Redis.ClaimTTL = 0 },
		},
		{
			name:   "tracing with bad url",
			mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.JaegerURL = "udp://x" },
		},
		{
			name: "http rps must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.HTTP.RequestsPerSecond = 0
			},
		},
		{
			name: "http max concurrent must be >= 0",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.HTTP.MaxConcurrent = -1
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestValidate_AcceptedPrerollBuildsGate(t *testing.T) {
	for _, fraction := range []float64{0.0002, 0.25, 0.999} {
		cfg := DefaultConfig()
		cfg.Stream.PrerollLowWater = fraction
		if err := cfg.Validate(); err != nil {
			t.Fatalf("fraction %v rejected: %v", fraction, err)
		}
		block := avtp.SampleSize * cfg.Stream.SamplesPerFrame
		if _, err := ringbuffer.NewPreroll(cfg.Stream.RingCapacity, block, fraction); err != nil {
			t.Errorf("fraction %v passes validation but not the gate: %v", fraction, err)
		}
	}
}

func TestValidate_ReplayListenerNeedsNoInterface(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stream.Interface = ""
	cfg.Transport.ReplayFile = "capture.pcap"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("replay listener should not need an interface: %v", err)
	}

	cfg.Stream.Role = "talker"
	if err := cfg.Validate(); err == nil {
		t.Fatal("talker without interface accepted")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Stream.SampleRate != 48000 || cfg.Stream.Channels != 2 {
		t.Errorf("unexpected defaults: %+v", cfg.Stream)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
stream:
  role: talker
  interface: eth1
  stream_uid: 0x10
  samples_per_frame: 8
mrp:
  traffic_class: B
  domain_timeout: 3s
  connect_retry:
    enabled: true
    max_attempts: 5
    initial_delay: 50ms
audio:
  source: tone
  tone_hz: 440
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AVBSTREAM_MRPD_ADDRESS", "127.0.0.1:7600")
	t.Setenv("AVBSTREAM_ENDPOINT_ID", "0x81")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Stream.Role != "talker" || cfg.Stream.Interface != "eth1" {
		t.Errorf("stream section not applied: %+v", cfg.Stream)
	}
	if cfg.Stream.StreamUID != 0x10 || cfg.Stream.EndpointID != 0x81 {
		t.Errorf("unexpected ids uid=%#x eid=%#x", cfg.Stream.StreamUID, cfg.Stream.EndpointID)
	}
	if cfg.Stream.SamplesPerFrame != 8 || cfg.Stream.Channels != 2 {
		t.Errorf("defaults not kept for unset fields: %+v", cfg.Stream)
	}
	if cfg.Mrp.TrafficClass != "B" || cfg.Mrp.DomainTimeout != 3*time.Second {
		t.Errorf("mrp section not applied: %+v", cfg.Mrp)
	}
	if !cfg.Mrp.ConnectRetry.Enabled || cfg.Mrp.ConnectRetry.MaxAttempts != 5 || cfg.Mrp.ConnectRetry.InitialDelay != 50*time.Millisecond {
		t.Errorf("connect retry not applied: %+v", cfg.Mrp.ConnectRetry)
	}
	if cfg.Mrp.DaemonAddress != "127.0.0.1:7600" {
		t.Errorf("env override not applied: %s", cfg.Mrp.DaemonAddress)
	}
	if cfg.Audio.Source != "tone" || cfg.Audio.ToneHz != 440 {
		t.Errorf("audio section not applied: %+v", cfg.Audio)
	}
}

func TestLoad_InvalidFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("stream:\n  role: bridge\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected invalid role to be rejected")
	}
}

func TestLoad_BadEnvOverride(t *testing.T) {
	t.Setenv("AVBSTREAM_STREAM_UID", "300")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected out of range uid to be rejected")
	}
}
