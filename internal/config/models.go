package config

import "time"

// CurrentVersion is the config file format version.
const CurrentVersion = 1

// Config is the whole configuration file.
type Config struct {
	Version   int             `yaml:"version"`
	Transport TransportConfig `yaml:"transport"`
	Poll      PollConfig      `yaml:"poll"`
	Logging   LoggingConfig   `yaml:"logging"`
	Controls  ControlBytes    `yaml:"controls"`
	Messages  []MessageSpec   `yaml:"messages"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

// TransportConfig selects and configures the link to the MCU.
type TransportConfig struct {
	Kind        string `yaml:"kind"`                    // spidev, websocket, replay
	Device      string `yaml:"device,omitempty"`        // spidev path
	SpeedHz     uint32 `yaml:"speed_hz,omitempty"`      // SPI clock
	Mode        uint8  `yaml:"mode"`                    // SPI mode 0-3
	BitsPerWord uint8  `yaml:"bits_per_word,omitempty"` // normally 8
	ChunkSize   int    `yaml:"chunk_size"`              // bytes per exchange
	URL         string `yaml:"url,omitempty"`           // bridge URL for websocket
	Capture     string `yaml:"capture,omitempty"`       // record exchanges to this file
	ReplayFile  string `yaml:"replay_file,omitempty"`   // capture to read for kind replay
}

// PollConfig tunes the poll loop.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty"`
	Format     string `yaml:"format,omitempty"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// ControlBytes are the framing bytes shared with the firmware.
type ControlBytes struct {
	Idle      uint8 `yaml:"idle"`
	Delimiter uint8 `yaml:"delimiter"`
	Esc       uint8 `yaml:"esc"`
	EscEnd    uint8 `yaml:"esc_end"`
	EscEsc    uint8 `yaml:"esc_esc"`
}

// MessageSpec declares one message type. Fields are given either as a list
// or as a struct layout string such as "<IBh" with Names.
type MessageSpec struct {
	ID     uint8       `yaml:"id"`
	Name   string      `yaml:"name"`
	Length int         `yaml:"length,omitempty"` // derived from fields when 0
	Layout string      `yaml:"layout,omitempty"`
	Names  []string    `yaml:"names,omitempty"`
	Fields []FieldSpec `yaml:"fields,omitempty"`
}

// FieldSpec is one little-endian integer field.
type FieldSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // u8, i8, u16, i16, u32, i32, u64, i64
}

// BridgeConfig configures spilink-bridge.
type BridgeConfig struct {
	Listen    string `yaml:"listen"`
	Advertise bool   `yaml:"advertise"`
	Instance  string `yaml:"instance,omitempty"`
}

// Default returns the configuration for the reference hardware: a Raspberry
// Pi talking to the MCU on /dev/spidev0.0 at 10 kHz.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Transport: TransportConfig{
			Kind:        "spidev",
			Device:      "/dev/spidev0.0",
			SpeedHz:     10000,
			Mode:        0,
			BitsPerWord: 8,
			ChunkSize:   32,
		},
		Poll: PollConfig{
			Interval: time.Second,
		},
		Controls: ControlBytes{
			Idle:      0x00,
			Delimiter: 0xC0,
			Esc:       0xDB,
			EscEnd:    0xDC,
			EscEsc:    0xDD,
		},
		Messages: []MessageSpec{
			{
				ID:     0x01,
				Name:   "Oscillator Interval",
				Length: 9,
				Layout: "<IBh",
				Names:  []string{"f_cpu", "interval", "variance"},
			},
		},
		Bridge: BridgeConfig{
			Listen:    ":8732",
			Advertise: true,
		},
	}
}
