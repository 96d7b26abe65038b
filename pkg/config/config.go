// Package config holds the board configuration shared by the binaries.
//
// Values come from built-in defaults, then CANLINK_* environment variables,
// then command line flags, then the YAML file named by -config if any.
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robotalks/canlink.go/pkg/can"
	"github.com/robotalks/canlink.go/pkg/can/hw"
	"github.com/robotalks/canlink.go/pkg/can/hw/host"
	"github.com/robotalks/canlink.go/pkg/event"
	"github.com/robotalks/canlink.go/pkg/status"
)

// VirtualInterface selects the in-process virtual bus instead of SocketCAN.
const VirtualInterface = "virtual"

// Telemetry encodings.
const (
	EncodingProto = "proto"
	EncodingCBOR  = "cbor"
)

// Config defines the board configuration.
type Config struct {
	// Interface is the SocketCAN interface, e.g. can0, or "virtual".
	Interface string     `yaml:"interface"`
	DeviceID  int        `yaml:"device_id"`
	Bitrate   int        `yaml:"bitrate"`
	Loopback  bool       `yaml:"loopback"`
	TxPin     int        `yaml:"tx_pin"`
	RxPin     int        `yaml:"rx_pin"`
	Layout    can.Layout `yaml:"layout"`
	// Filters are message ids to accept. Empty accepts everything.
	Filters       []int `yaml:"filters"`
	AckTimeoutMs  int   `yaml:"ack_timeout_ms"`
	BusOffGraceMs int   `yaml:"bus_off_grace_ms"`

	// MQTTURL enables telemetry, e.g. mqtt://host:port/topic-prefix.
	MQTTURL           string `yaml:"mqtt_url"`
	TelemetryEncoding string `yaml:"telemetry_encoding"`

	// UARTPort enables the CAN-over-UART bridge.
	UARTPort string `yaml:"uart_port"`
	UARTBaud int    `yaml:"uart_baud"`

	// File is the YAML file loaded by NewConfig.
	File string `yaml:"-"`

	vbus *host.VirtualBus
}

var defaultConfig = Config{
	Interface:         "vcan0",
	Bitrate:           500,
	Layout:            can.DefaultLayout,
	AckTimeoutMs:      int(can.DefaultAckTimeout / time.Millisecond),
	BusOffGraceMs:     int(can.DefaultBusOffGrace / time.Millisecond),
	TelemetryEncoding: EncodingProto,
	UARTBaud:          115200,
}

func init() {
	applyEnv(&defaultConfig, os.Getenv)
}

func applyEnv(c *Config, getenv func(string) string) {
	if val := getenv("CANLINK_IFACE"); val != "" {
		c.Interface = val
	}
	if val := getenv("CANLINK_DEVICE_ID"); val != "" {
		if id, err := strconv.Atoi(val); err == nil {
			c.DeviceID = id
		}
	}
	if val := getenv("CANLINK_MQTT_URL"); val != "" {
		c.MQTTURL = val
	}
	if val := getenv("CANLINK_UART"); val != "" {
		c.UARTPort = val
	}
}

// SetupFlags sets up command line flags on the default flag set.
func SetupFlags() {
	SetupFlagSet(flag.CommandLine, &defaultConfig)
}

// SetupFlagSet binds flags in fs to c.
func SetupFlagSet(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.Interface, "iface", c.Interface, "SocketCAN interface, or \"virtual\".")
	fs.IntVar(&c.DeviceID, "device-id", c.DeviceID, "Device ID of this board.")
	fs.IntVar(&c.Bitrate, "bitrate", c.Bitrate, "Bitrate in kbps.")
	fs.BoolVar(&c.Loopback, "loopback", c.Loopback, "Receive own frames.")
	fs.Func("filter", "Message ID to accept, repeatable.", func(val string) error {
		id, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		c.Filters = append(c.Filters, id)
		return nil
	})
	fs.IntVar(&c.AckTimeoutMs, "ack-timeout", c.AckTimeoutMs, "ACK timeout in milliseconds.")
	fs.IntVar(&c.BusOffGraceMs, "bus-off-grace", c.BusOffGraceMs, "Bus-off grace period in milliseconds.")
	fs.StringVar(&c.MQTTURL, "mqtt", c.MQTTURL, "Telemetry broker URL, e.g. mqtt://localhost:1883/canlink/.")
	fs.StringVar(&c.TelemetryEncoding, "telemetry-encoding", c.TelemetryEncoding, "Telemetry payload encoding: proto or cbor.")
	fs.StringVar(&c.UARTPort, "uart", c.UARTPort, "Serial port of the CAN-over-UART bridge.")
	fs.IntVar(&c.UARTBaud, "uart-baud", c.UARTBaud, "Baud rate of the CAN-over-UART bridge.")
	fs.StringVar(&c.File, "config", c.File, "YAML configuration file.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a config from the defaults and the file they name.
func NewConfig() (*Config, error) {
	conf := defaultConfig
	conf.Filters = append([]int(nil), defaultConfig.Filters...)
	if conf.File != "" {
		if err := conf.LoadFile(conf.File); err != nil {
			return nil, err
		}
	}
	return &conf, conf.Validate()
}

// MustNewConfig creates a config and fails on error.
func MustNewConfig() *Config {
	conf, err := NewConfig()
	if err != nil {
		log.Fatalln(err)
	}
	return conf
}

// LoadFile overlays the settings present in a YAML file.
func (c *Config) LoadFile(fn string) error {
	data, err := os.ReadFile(fn)
	if err != nil {
		return err
	}
	return c.Parse(data)
}

// Parse overlays the settings present in YAML data. Unknown keys are
// rejected.
func (c *Config) Parse(data []byte) error {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if err := c.Layout.Validate(); err != nil {
		return err
	}
	switch {
	case c.Interface == "":
		return status.Codef(status.InvalidArgs, "config: interface required")
	case c.DeviceID < 0 || c.DeviceID > int(c.Layout.MaxDeviceID()):
		return status.Codef(status.InvalidArgs, "config: device id %d not in 0..%d", c.DeviceID, c.Layout.MaxDeviceID())
	case c.Bitrate <= 0 || c.Bitrate > 1000:
		return status.Codef(status.InvalidArgs, "config: bitrate %d not in 1..1000 kbps", c.Bitrate)
	case c.TxPin < 0 || c.TxPin > 0xff || c.RxPin < 0 || c.RxPin > 0xff:
		return status.Codef(status.InvalidArgs, "config: pins out of range")
	case c.AckTimeoutMs <= 0 || c.BusOffGraceMs <= 0:
		return status.Codef(status.InvalidArgs, "config: timeouts must be positive")
	case c.TelemetryEncoding != EncodingProto && c.TelemetryEncoding != EncodingCBOR:
		return status.Codef(status.InvalidArgs, "config: unknown telemetry encoding %q", c.TelemetryEncoding)
	case c.UARTPort != "" && c.UARTBaud <= 0:
		return status.Codef(status.InvalidArgs, "config: uart baud %d", c.UARTBaud)
	}
	for _, id := range c.Filters {
		if id < 0 || id > int(c.Layout.MaxMsgID()) {
			return status.Codef(status.InvalidArgs, "config: filter %d not in 0..%d", id, c.Layout.MaxMsgID())
		}
	}
	return nil
}

// Settings returns the session settings for this board.
func (c *Config) Settings(rx, tx, fault event.ID) can.Settings {
	return can.Settings{
		DeviceID:    can.DeviceID(c.DeviceID),
		Bitrate:     uint16(c.Bitrate),
		Loopback:    c.Loopback,
		TxPin:       uint8(c.TxPin),
		RxPin:       uint8(c.RxPin),
		RxEvent:     rx,
		TxEvent:     tx,
		FaultEvent:  fault,
		AckTimeout:  time.Duration(c.AckTimeoutMs) * time.Millisecond,
		BusOffGrace: time.Duration(c.BusOffGraceMs) * time.Millisecond,
		Layout:      c.Layout,
	}
}

// NewTransport creates a host transport for the configured interface. Each
// call opens another socket; with the virtual interface all of them share one
// bus.
func (c *Config) NewTransport() hw.Transport {
	if c.Interface == VirtualInterface {
		if c.vbus == nil {
			c.vbus = host.NewVirtualBus()
		}
		return host.New(c.vbus.Opener())
	}
	return host.New(host.SocketCAN(c.Interface))
}
