package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/canlink.go/pkg/can"
	"github.com/robotalks/canlink.go/pkg/status"
)

func TestEnvAndFlags(t *testing.T) {
	conf := defaultConfig
	env := map[string]string{
		"CANLINK_IFACE":     "can1",
		"CANLINK_DEVICE_ID": "7",
		"CANLINK_MQTT_URL":  "mqtt://broker:1883/car/",
	}
	applyEnv(&conf, func(key string) string { return env[key] })
	require.Equal(t, "can1", conf.Interface)
	require.Equal(t, 7, conf.DeviceID)
	require.Equal(t, "mqtt://broker:1883/car/", conf.MQTTURL)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	SetupFlagSet(fs, &conf)
	require.NoError(t, fs.Parse([]string{"-device-id", "3", "-filter", "5", "-filter", "21", "-loopback"}))
	require.Equal(t, 3, conf.DeviceID)
	require.Equal(t, []int{5, 21}, conf.Filters)
	require.True(t, conf.Loopback)
	require.NoError(t, conf.Validate())

	s := conf.Settings(1, 2, 3)
	require.Equal(t, can.DeviceID(3), s.DeviceID)
	require.Equal(t, uint16(500), s.Bitrate)
	require.Equal(t, 25*time.Millisecond, s.AckTimeout)
	require.Equal(t, time.Second, s.BusOffGrace)
}

func TestLoadFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "board.yaml")
	require.NoError(t, os.WriteFile(fn, []byte(`
interface: virtual
device_id: 2
bitrate: 250
filters: [1, 2, 40]
ack_timeout_ms: 50
telemetry_encoding: cbor
layout:
  source_bits: 5
  type_bits: 1
  msg_id_bits: 11
`), 0o644))

	conf := defaultConfig
	require.NoError(t, conf.LoadFile(fn))
	require.NoError(t, conf.Validate())
	require.Equal(t, VirtualInterface, conf.Interface)
	require.Equal(t, 250, conf.Bitrate)
	require.Equal(t, []int{1, 2, 40}, conf.Filters)
	require.Equal(t, EncodingCBOR, conf.TelemetryEncoding)
	require.True(t, conf.Layout.Extended())
	// Keys absent from the file keep their values.
	require.Equal(t, 1000, conf.BusOffGraceMs)

	require.Error(t, conf.Parse([]byte("no_such_key: 1\n")))
}

func TestValidate(t *testing.T) {
	for _, mutate := range []func(*Config){
		func(c *Config) { c.DeviceID = 16 },
		func(c *Config) { c.Bitrate = 0 },
		func(c *Config) { c.Filters = []int{64} },
		func(c *Config) { c.TelemetryEncoding = "json" },
		func(c *Config) { c.AckTimeoutMs = 0 },
		func(c *Config) { c.Interface = "" },
		func(c *Config) { c.Layout.TypeBits = 2 },
	} {
		conf := defaultConfig
		mutate(&conf)
		require.True(t, errors.Is(conf.Validate(), status.ErrInvalidArgs))
	}
}
