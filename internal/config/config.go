// Package config loads the optional ss2k-flasher YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/smartspin2k/ss2k-flasher/internal/chip"
	"github.com/smartspin2k/ss2k-flasher/internal/flasher"
	"github.com/smartspin2k/ss2k-flasher/internal/image"
	"github.com/smartspin2k/ss2k-flasher/internal/layout"
	"github.com/smartspin2k/ss2k-flasher/internal/protocol"
	"github.com/smartspin2k/ss2k-flasher/internal/udplog"
)

// DefaultUploadBaud is the rate writes are attempted at before falling back.
const DefaultUploadBaud = protocol.UploadBaudRate

// Config holds every tunable of the flasher. Zero values are never valid;
// start from Default.
type Config struct {
	UploadBaud  int           `yaml:"upload_baud" validate:"min=9600,max=4000000"`
	LogBaud     int           `yaml:"log_baud" validate:"min=300,max=4000000"`
	Bootloader  string        `yaml:"bootloader" validate:"required"`
	Partitions  string        `yaml:"partitions" validate:"required"`
	OTAData     string        `yaml:"otadata" validate:"required"`
	Filesystem  string        `yaml:"filesystem" validate:"required"`
	Stub        string        `yaml:"stub" validate:"required"`
	HTTPTimeout time.Duration `yaml:"http_timeout" validate:"min=1s"`
	UDPPort     int           `yaml:"udp_port" validate:"min=1,max=65535"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		UploadBaud:  DefaultUploadBaud,
		LogBaud:     chip.DefaultBaudRate,
		Bootloader:  layout.DefaultBootloader,
		Partitions:  layout.DefaultPartitions,
		OTAData:     layout.DefaultOTAData,
		Filesystem:  layout.DefaultFilesystem,
		Stub:        flasher.DefaultStub,
		HTTPTimeout: image.DefaultTimeout,
		UDPPort:     udplog.DefaultPort,
	}
}

// ErrValidation is wrapped by every error caused by an invalid value.
var ErrValidation = errors.New("validation error")

// Load reads the file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var valErrors validator.ValidationErrors
	if !errors.As(err, &valErrors) {
		return err
	}

	msgs := make([]string, 0, len(valErrors))
	for _, valErr := range valErrors {
		msgs = append(msgs, fmt.Sprintf("field validation for '%s' failed on the '%s' tag", valErr.Field(), valErr.Tag()))
	}

	return fmt.Errorf("%w:\n%s", ErrValidation, strings.Join(msgs, "\n"))
}

// Sources returns the image references of the non-firmware regions.
func (c Config) Sources() layout.Sources {
	return layout.Sources{
		Bootloader: image.Parse(c.Bootloader),
		Partitions: image.Parse(c.Partitions),
		OTAData:    image.Parse(c.OTAData),
		Filesystem: image.Parse(c.Filesystem),
	}
}

// StubRef returns the reference of the RAM flashing agent.
func (c Config) StubRef() image.Reference {
	return image.Parse(c.Stub)
}
