package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	HTTP struct {
		// MaxClients is the number of connection slots. Connections accepted while all the
		// slots are taken are ignored.
		MaxClients int `yaml:"max_clients"`
		// BufferSize is the capacity of a per-connection receive buffer. Request line
		// fragments, header lines and argument tokens must fit it, except argument values,
		// which are streamed in several pieces.
		BufferSize int `yaml:"buffer_size"`
		// HeaderBufferSize limits the response header block, including the status line.
		HeaderBufferSize int `yaml:"header_buffer_size"`
		// Server is the value of the Server header of every response.
		Server string `yaml:"server"`
		// KeepAlive is the value of the Keep-Alive header of every response.
		KeepAlive string `yaml:"keep_alive"`
	}

	Send struct {
		// ChunkOverhead is reserved from the send window in chunked mode in order to fit
		// the chunk length line and the trailing CRLF.
		ChunkOverhead int `yaml:"chunk_overhead"`
		// MaxSegments limits the length of a single connection's send queue. Exceeding it
		// is handled like an allocation failure, which is fatal.
		MaxSegments int `yaml:"max_segments"`
		// MaxOwnedBytes limits how much copied data a single connection's send queue may
		// hold. Exceeding it is fatal, too.
		MaxOwnedBytes int `yaml:"max_owned_bytes"`
	}

	NET struct {
		// Addr is the listening address in host:port form.
		Addr string `yaml:"addr"`
		// SendWindow is how many bytes may be outstanding per connection before the writes
		// are considered blocking.
		SendWindow int `yaml:"send_window"`
		// PollInterval controls how often idle connections are looked for.
		PollInterval time.Duration `yaml:"poll_interval"`
		// IdleTimeout is how long a connection may go without any progress until it's
		// forcefully closed.
		IdleTimeout time.Duration `yaml:"idle_timeout"`
	}

	Log struct {
		// Level is one of debug, info, warn or error.
		Level string `yaml:"level"`
		// File enables writing logs into a rotated file instead of stderr.
		File       string `yaml:"file" test:"nullable"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	}

	S0Port struct {
		// PPKWh is the number of pulses per kWh the meter produces.
		PPKWh uint32 `yaml:"ppkwh"`
		// LowerPowerInterval is the reporting interval, which is used when the power is
		// too low to produce a pulse within the regular one.
		LowerPowerInterval time.Duration `yaml:"lower_power_interval"`
		// MinimalPulseWidth is a width of the shortest valid pulse. Pulses not longer than it,
		// or longer than its tenfold are considered noise.
		MinimalPulseWidth time.Duration `yaml:"minimal_pulse_width"`
	}

	S0 struct {
		Ports []S0Port `yaml:"ports"`
		// ReportInterval is the regular interval of publishing the readings.
		ReportInterval time.Duration `yaml:"report_interval"`
	}

	MQTT struct {
		// Broker is the broker URL. Empty value disables publishing.
		Broker    string `yaml:"broker" test:"nullable"`
		ClientID  string `yaml:"client_id"`
		BaseTopic string `yaml:"base_topic"`
		Username  string `yaml:"username" test:"nullable"`
		Password  string `yaml:"password" test:"nullable"`
		// Timeout bounds connecting and every publish.
		Timeout time.Duration `yaml:"timeout"`
	}
)

// Config holds every tunable of the device firmware.
//
// You must ALWAYS modify defaults (returned via Default()) and NEVER try to initialize the
// config manually, because most likely this will result in ambiguous errors.
type Config struct {
	HTTP HTTP `yaml:"http"`
	Send Send `yaml:"send"`
	NET  NET  `yaml:"net"`
	Log  Log  `yaml:"log"`
	S0   S0   `yaml:"s0"`
	MQTT MQTT `yaml:"mqtt"`
}

// Default returns default config. Buffer sizes are tiny on purpose: they are meant for
// a device with a few dozens kilobytes of RAM.
func Default() *Config {
	return &Config{
		HTTP: HTTP{
			MaxClients:       5,
			BufferSize:       128,
			HeaderBufferSize: 512,
			Server:           "ESP8266",
			KeepAlive:        "timeout=15, max=100",
		},
		Send: Send{
			ChunkOverhead: 16,
			MaxSegments:   64,
			MaxOwnedBytes: 16 * 1024,
		},
		NET: NET{
			Addr:         "0.0.0.0:80",
			SendWindow:   2920, // two full-sized segments, as lwIP does by default
			PollInterval: time.Second,
			IdleTimeout:  15 * time.Second,
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		S0: S0{
			Ports: []S0Port{
				{PPKWh: 1000, LowerPowerInterval: 60 * time.Second, MinimalPulseWidth: 25 * time.Millisecond},
				{PPKWh: 1000, LowerPowerInterval: 60 * time.Second, MinimalPulseWidth: 25 * time.Millisecond},
			},
			ReportInterval: 5 * time.Second,
		},
		MQTT: MQTT{
			ClientID:  "heishamon",
			BaseTopic: "panasonic_heat_pump",
			Timeout:   5 * time.Second,
		},
	}
}

// Load overlays the YAML file at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := Default()
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate reports settings the engine can't work with.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.MaxClients < 1 {
		errs = append(errs, errors.New("http.max_clients must be positive"))
	}
	// the longest method token must fit
	if c.HTTP.BufferSize < len("POST ") {
		errs = append(errs, errors.New("http.buffer_size is too small"))
	}
	if c.HTTP.HeaderBufferSize < 64 {
		errs = append(errs, errors.New("http.header_buffer_size is too small"))
	}
	if c.NET.SendWindow <= c.Send.ChunkOverhead {
		errs = append(errs, errors.New("net.send_window must exceed send.chunk_overhead"))
	}
	if c.Send.MaxSegments < 1 || c.Send.MaxOwnedBytes < 1 {
		errs = append(errs, errors.New("send limits must be positive"))
	}
	if c.NET.PollInterval <= 0 || c.NET.IdleTimeout <= 0 {
		errs = append(errs, errors.New("net.poll_interval and net.idle_timeout must be positive"))
	}
	for i, port := range c.S0.Ports {
		if port.PPKWh == 0 {
			errs = append(errs, fmt.Errorf("s0.ports[%d].ppkwh must be positive", i))
		}
		if port.MinimalPulseWidth <= 0 || port.LowerPowerInterval <= 0 {
			errs = append(errs, fmt.Errorf(
				"s0.ports[%d].minimal_pulse_width and lower_power_interval must be positive", i,
			))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}

	return nil
}
