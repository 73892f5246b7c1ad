// Package config loads the mother-ship's and rover's TOML
// configuration, applying the defaults spec.md §6 "Startup parameters"
// names when a file or field is absent.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// Defaults mirror spec.md §6's default table.
const (
	DefaultDatagramPort     = 8080
	DefaultStreamPort       = 8081
	DefaultObservationPort  = 8082
	DefaultReceiveTimeoutS  = 2
	DefaultRetryLimit       = 5
	DefaultBufferSize       = 1024
)

// Config describes the TOML-configuration shared by both processes.
// Only the fields a given process needs are read; the rest are left
// at their defaults.
type Config struct {
	Network  networkConf  `toml:"network"`
	Storage  storageConf  `toml:"storage"`
	Logging  logConf      `toml:"logging"`
	Rover    roverConf    `toml:"rover"`
}

// networkConf describes the Network-configuration block: the three
// listening ports and the MissionLink reliability parameters.
type networkConf struct {
	DatagramPort     int `toml:"datagram_port"`
	StreamPort       int `toml:"stream_port"`
	ObservationPort  int `toml:"observation_port"`
	ReceiveTimeoutS  int `toml:"receive_timeout_s"`
	RetryLimit       int `toml:"retry_limit"`
	BufferSize       int `toml:"buffer_size"`
}

// storageConf describes where the mother-ship persists its
// badgerhold database and telemetry artifacts.
type storageConf struct {
	MissionDBDir   string `toml:"mission_db_dir"`
	TelemetryRoot  string `toml:"telemetry_root"`
	InboxDir       string `toml:"inbox_dir"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string `toml:"level"`
	ReportCaller bool   `toml:"report-caller"`
	Format       string `toml:"format"`
}

// roverConf describes the rover process's own identity and the
// address of the mother-ship it talks to. Unused by the mother-ship.
type roverConf struct {
	AgentID            string `toml:"agent_id"`
	MothershipAddress  string `toml:"mothership_address"`
	TelemetryIntervalS int    `toml:"telemetry_interval_s"`
	PollIntervalS      int    `toml:"poll_interval_s"`
	ProgressIntervalS  int    `toml:"progress_interval_s"`
}

// withDefaults fills in zero-valued fields with spec.md's defaults.
func withDefaults(c Config) Config {
	if c.Network.DatagramPort == 0 {
		c.Network.DatagramPort = DefaultDatagramPort
	}
	if c.Network.StreamPort == 0 {
		c.Network.StreamPort = DefaultStreamPort
	}
	if c.Network.ObservationPort == 0 {
		c.Network.ObservationPort = DefaultObservationPort
	}
	if c.Network.ReceiveTimeoutS == 0 {
		c.Network.ReceiveTimeoutS = DefaultReceiveTimeoutS
	}
	if c.Network.RetryLimit == 0 {
		c.Network.RetryLimit = DefaultRetryLimit
	}
	if c.Network.BufferSize == 0 {
		c.Network.BufferSize = DefaultBufferSize
	}
	if c.Storage.MissionDBDir == "" {
		c.Storage.MissionDBDir = "./data/missions"
	}
	if c.Storage.TelemetryRoot == "" {
		c.Storage.TelemetryRoot = "./data/telemetry"
	}
	if c.Storage.InboxDir == "" {
		c.Storage.InboxDir = "./data/inbox"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Rover.TelemetryIntervalS == 0 {
		c.Rover.TelemetryIntervalS = 30
	}
	if c.Rover.PollIntervalS == 0 {
		c.Rover.PollIntervalS = 15
	}
	if c.Rover.ProgressIntervalS == 0 {
		c.Rover.ProgressIntervalS = 20
	}
	return c
}

// Load reads and decodes the TOML file at path, applying defaults for
// any field the file left unset. An empty path is not an error: the
// returned Config carries defaults throughout. A non-empty path that
// cannot be read or decoded is an error.
func Load(path string) (Config, error) {
	var conf Config
	if path == "" {
		return withDefaults(conf), nil
	}

	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return Config{}, fmt.Errorf("config: decode %q: %w", path, err)
	}
	return withDefaults(conf), nil
}

// ReceiveTimeout returns the configured receive timeout as a
// time.Duration.
func (c Config) ReceiveTimeout() time.Duration {
	return time.Duration(c.Network.ReceiveTimeoutS) * time.Second
}

// DatagramAddr returns the host:port the MissionLink endpoint should
// bind, listening on all interfaces.
func (c Config) DatagramAddr() string {
	return fmt.Sprintf(":%d", c.Network.DatagramPort)
}

// StreamAddr returns the host:port the TelemetryStream server should
// bind.
func (c Config) StreamAddr() string {
	return fmt.Sprintf(":%d", c.Network.StreamPort)
}

// ObservationAddr returns the host:port the observation HTTP surface
// should bind.
func (c Config) ObservationAddr() string {
	return fmt.Sprintf(":%d", c.Network.ObservationPort)
}

// ConfigureLogging applies the Logging-configuration block to the
// standard logrus logger, mirroring cmd/dtnd/configuration.go's
// parseCore level/format setup.
func (c Config) ConfigureLogging() {
	if c.Logging.Level != "" {
		if lvl, err := log.ParseLevel(c.Logging.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    c.Logging.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("config: failed to set log level")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(c.Logging.ReportCaller)

	switch c.Logging.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("config: unknown logging format")
	}
}
