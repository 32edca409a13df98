package dynamixel

import (
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/multierr"
)

// Config describes one bus. It can be decoded from loosely typed attributes
// with DecodeConfig.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0").
	Port string `json:"port" mapstructure:"port"`

	// BaudRate is the communication speed. Default is 1000000.
	BaudRate int `json:"baud_rate,omitempty" mapstructure:"baud_rate"`

	// Protocol is the wire protocol version. Default is 2.0.
	Protocol ProtocolVersion `json:"protocol,omitempty" mapstructure:"protocol"`

	// LatencyTimer is the USB adapter latency. Default is 16ms.
	LatencyTimer time.Duration `json:"latency_timer,omitempty" mapstructure:"latency_timer"`

	// RS485, when set, opens the port in kernel RS-485 mode.
	RS485 *RS485Config `json:"rs485,omitempty" mapstructure:"rs485"`
}

// RS485Config controls the RTS line around transmissions.
type RS485Config struct {
	DelayRTSBeforeSend time.Duration `json:"delay_rts_before_send,omitempty" mapstructure:"delay_rts_before_send"`
	DelayRTSAfterSend  time.Duration `json:"delay_rts_after_send,omitempty" mapstructure:"delay_rts_after_send"`
	RTSHighDuringSend  bool          `json:"rts_high_during_send,omitempty" mapstructure:"rts_high_during_send"`
	RTSHighAfterSend   bool          `json:"rts_high_after_send,omitempty" mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `json:"rx_during_tx,omitempty" mapstructure:"rx_during_tx"`
}

// DecodeConfig decodes attributes such as those read from a JSON or YAML file.
func DecodeConfig(attrs map[string]interface{}) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			protocolVersionHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to build config decoder")
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var protocolVersionType = reflect.TypeOf(ProtocolVersion(0))

func protocolVersionHook(_, to reflect.Type, data interface{}) (interface{}, error) {
	if to != protocolVersionType {
		return data, nil
	}
	return ParseProtocolVersion(data)
}

// ParseProtocolVersion accepts 1, 2, 1.0, 2.0 and their string forms.
func ParseProtocolVersion(v interface{}) (ProtocolVersion, error) {
	if pv, ok := v.(ProtocolVersion); ok {
		return pv, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid protocol version %v", v)
	}
	switch f {
	case 1:
		return Protocol1, nil
	case 2:
		return Protocol2, nil
	default:
		return 0, errors.Errorf("unsupported protocol version %v", v)
	}
}

func (c *Config) setDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.Protocol == 0 {
		c.Protocol = Protocol2
	}
	if c.LatencyTimer == 0 {
		c.LatencyTimer = DefaultLatencyTimer
	}
}

// Validate reports every problem with the config at once.
func (c *Config) Validate() error {
	var err error
	if c.BaudRate < 0 {
		err = multierr.Append(err, errors.Errorf("baud_rate must be positive, got %d", c.BaudRate))
	}
	if c.Protocol != 0 && c.Protocol != Protocol1 && c.Protocol != Protocol2 {
		err = multierr.Append(err, errors.Errorf("unsupported protocol version %d", int(c.Protocol)))
	}
	if c.LatencyTimer < 0 {
		err = multierr.Append(err, errors.Errorf("latency_timer must not be negative, got %v", c.LatencyTimer))
	}
	if c.RS485 != nil {
		if c.RS485.DelayRTSBeforeSend < 0 || c.RS485.DelayRTSAfterSend < 0 {
			err = multierr.Append(err, errors.New("rs485 delays must not be negative"))
		}
	}
	return err
}
