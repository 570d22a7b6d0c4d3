package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ocxo/spilink/internal/logging"
	"github.com/ocxo/spilink/internal/protocol"
	"github.com/ocxo/spilink/internal/transport"
)

const (
	appName    = "spilink"
	configFile = "config.yaml"
)

// Mutex for thread-safe file operations
var fileMutex sync.Mutex

// GetConfigDir returns the OS-appropriate configuration directory for the application.
// This follows platform conventions:
//   - Linux: $XDG_CONFIG_HOME/spilink or $HOME/.config/spilink
//   - macOS: $HOME/.config/spilink (following XDG convention on macOS)
//   - Windows: %LOCALAPPDATA%\spilink
func GetConfigDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			// Fallback to USERPROFILE\AppData\Local if LOCALAPPDATA not set
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config", appName)

	default:
		// Linux and other Unix-like systems: Use XDG_CONFIG_HOME or $HOME/.config
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// GetConfigPath returns the full path to the configuration file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

// resolvePath returns path, or the default location when path is empty.
func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	p, err := GetConfigPath()
	if err != nil {
		return "", fmt.Errorf("failed to get config path: %w", err)
	}
	return p, nil
}

// Load reads the configuration file at path (the default location when
// empty). A missing file yields Default(). Keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	configPath, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()

	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// A messages list in the file replaces the default one
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", cfg.Version, CurrentVersion)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

// Save writes the configuration to path (the default location when empty).
// Performs an atomic write to prevent corruption on crash.
func (c *Config) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	configPath, err := resolvePath(path)
	if err != nil {
		return err
	}

	// Create directory with user-only permissions (0700)
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# spilink configuration
# Link settings for the GPSDO SPI message stream. Control bytes and message
# types must match the firmware.
#
# Location: ` + configPath + `

`)
	data = append(header, data...)

	// Write to temporary file first (atomic write)
	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		// Clean up temp file on error
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	return nil
}

// Validate checks the configuration without touching any device.
func (c *Config) Validate() error {
	var errs []error

	switch transport.Kind(c.Transport.Kind) {
	case transport.KindSpidev:
		if c.Transport.Device == "" {
			errs = append(errs, errors.New("transport.device is required for spidev"))
		}
	case transport.KindWebSocket:
		if c.Transport.URL == "" {
			errs = append(errs, errors.New("transport.url is required for websocket"))
		}
	case transport.KindReplay:
		if c.Transport.ReplayFile == "" {
			errs = append(errs, errors.New("transport.replay_file is required for replay"))
		}
	case transport.KindMemory:
	default:
		errs = append(errs, fmt.Errorf("transport.kind %q is not one of spidev, websocket, replay, memory", c.Transport.Kind))
	}
	if c.Transport.Mode > 3 {
		errs = append(errs, fmt.Errorf("transport.mode %d out of range 0-3", c.Transport.Mode))
	}
	if c.Transport.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("transport.chunk_size must be positive, got %d", c.Transport.ChunkSize))
	}
	if c.Poll.Interval < 0 {
		errs = append(errs, errors.New("poll.interval must not be negative"))
	}
	if c.Logging.Level != "" {
		if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
			errs = append(errs, fmt.Errorf("logging.level: %w", err))
		}
	}

	if err := c.Controls.toProtocol().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("controls: %w", err))
	} else if _, err := c.Catalog(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (b ControlBytes) toProtocol() protocol.Controls {
	return protocol.Controls{
		Idle:      b.Idle,
		Delimiter: b.Delimiter,
		Esc:       b.Esc,
		EscEnd:    b.EscEnd,
		EscEsc:    b.EscEsc,
	}
}

// ProtocolControls returns the control bytes for the decoder.
func (c *Config) ProtocolControls() protocol.Controls {
	return c.Controls.toProtocol()
}

// Catalog builds the message catalog declared in the file.
func (c *Config) Catalog() (*protocol.Catalog, error) {
	types := make([]*protocol.MessageType, 0, len(c.Messages))
	for i, spec := range c.Messages {
		mt, err := spec.messageType()
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		types = append(types, mt)
	}
	cat, err := protocol.NewCatalog(c.ProtocolControls(), types...)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	return cat, nil
}

func (s MessageSpec) messageType() (*protocol.MessageType, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("message type 0x%02x has no name", s.ID)
	}

	var fields []protocol.Field
	switch {
	case s.Layout != "" && len(s.Fields) > 0:
		return nil, fmt.Errorf("%s: give either layout or fields, not both", s.Name)
	case s.Layout != "":
		f, err := protocol.ParseLayout(s.Layout, s.Names)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		fields = f
	default:
		for _, fs := range s.Fields {
			f, err := fs.field()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", s.Name, err)
			}
			fields = append(fields, f)
		}
	}

	length := s.Length
	if length == 0 {
		length = 2
		for _, f := range fields {
			length += f.Width
		}
	}

	return &protocol.MessageType{
		ID:     s.ID,
		Name:   s.Name,
		Length: length,
		Fields: fields,
	}, nil
}

func (f FieldSpec) field() (protocol.Field, error) {
	t := strings.ToLower(strings.TrimSpace(f.Type))
	t = strings.TrimPrefix(t, "uint")
	signed := false
	switch {
	case strings.HasPrefix(t, "int"):
		t, signed = strings.TrimPrefix(t, "int"), true
	case strings.HasPrefix(t, "i"):
		t, signed = t[1:], true
	case strings.HasPrefix(t, "u"):
		t = t[1:]
	}

	var width int
	switch t {
	case "8":
		width = 1
	case "16":
		width = 2
	case "32":
		width = 4
	case "64":
		width = 8
	default:
		return protocol.Field{}, fmt.Errorf("field %q: unsupported type %q", f.Name, f.Type)
	}
	return protocol.Field{Name: f.Name, Width: width, Signed: signed}, nil
}

// TransportConfig returns the transport settings.
func (c *Config) TransportConfig() transport.Config {
	return transport.Config{
		Kind:        transport.Kind(c.Transport.Kind),
		Device:      c.Transport.Device,
		SpeedHz:     c.Transport.SpeedHz,
		Mode:        c.Transport.Mode,
		BitsPerWord: c.Transport.BitsPerWord,
		URL:         c.Transport.URL,
		CaptureFile: c.Transport.ReplayFile,
		Size:        c.Transport.ChunkSize,
		Idle:        c.Controls.Idle,
	}
}

// LoggingOptions returns the logging settings.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}
