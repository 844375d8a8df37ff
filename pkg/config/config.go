package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	// DefaultPort is the implicit-TLS submission port (SMTPS).
	DefaultPort = 465
	// DefaultBrandingName is used in subjects, bodies and the sender display name
	// when no branding is configured.
	DefaultBrandingName = "EcoCircle"
	// DefaultLinkExpiryMinutes is the lifetime printed in the notification footer.
	DefaultLinkExpiryMinutes = 15
)

// Environment variables consulted by Load. They take precedence over the file.
const (
	EnvConfigPath    = "NOTIFYMAIL_CONFIG"
	EnvHost          = "NOTIFYMAIL_SMTP_HOST"
	EnvPort          = "NOTIFYMAIL_SMTP_PORT"
	EnvUsername      = "NOTIFYMAIL_SMTP_USERNAME"
	EnvPassword      = "NOTIFYMAIL_SMTP_PASSWORD"
	EnvSenderName    = "NOTIFYMAIL_SENDER_NAME"
	EnvSenderAddress = "NOTIFYMAIL_SENDER_ADDRESS"
	EnvBrandingName  = "NOTIFYMAIL_BRAND_NAME"
	EnvPushgateway   = "NOTIFYMAIL_PUSHGATEWAY"
)

var ErrInvalidConfig = errors.New("invalid relay configuration")

// RelayConfig holds everything needed to reach and authenticate against the
// outbound relay, plus the values the templates need. It is built once by
// Load and must be treated as read-only afterwards.
type RelayConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	Sender   Sender
	Branding Branding
}

type Sender struct {
	// Name is the display name in the From header, e.g. "EcoCircle Team".
	Name string
	// Address overrides the From address. Defaults to the relay username.
	Address string
}

type Branding struct {
	Name              string
	LinkExpiryMinutes int
}

// FromAddress returns the envelope sender address.
func (c RelayConfig) FromAddress() string {
	if c.Sender.Address != "" {
		return c.Sender.Address
	}
	return c.Username
}

// Validate checks that the relay can be dialed and authenticated against.
func (c RelayConfig) Validate() error {
	var problems []string
	if c.Host == "" {
		problems = append(problems, "host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.Username == "" {
		problems = append(problems, "username is required")
	}
	if c.Password == "" {
		problems = append(problems, "password is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, ", "))
	}
	return nil
}

// ValidateSender checks only what a rendered message needs: a From address.
func (c RelayConfig) ValidateSender() error {
	if c.FromAddress() == "" {
		return fmt.Errorf("%w: sender address or username is required", ErrInvalidConfig)
	}
	return nil
}

// String never includes the relay coordinates or credentials.
func (c RelayConfig) String() string {
	return "RelayConfig{redacted}"
}

func (c RelayConfig) GoString() string {
	return c.String()
}

type fileConfig struct {
	Relay    relayFile    `yaml:"relay"`
	Sender   senderFile   `yaml:"sender,omitempty"`
	Branding brandingFile `yaml:"branding,omitempty"`
}

type relayFile struct {
	Host            string      `yaml:"host"`
	Port            int         `yaml:"port,omitempty"`
	Username        string      `yaml:"username"`
	Password        string      `yaml:"password,omitempty"`
	PasswordEnv     string      `yaml:"password-env,omitempty"`
	PasswordFile    string      `yaml:"password-file,omitempty"`
	PasswordKeyring *KeyringRef `yaml:"password-keyring,omitempty"`
}

type senderFile struct {
	Name    string `yaml:"name,omitempty"`
	Address string `yaml:"address,omitempty"`
}

type brandingFile struct {
	Name              string `yaml:"name,omitempty"`
	LinkExpiryMinutes int    `yaml:"link-expiry-minutes,omitempty"`
}

// Load builds the relay configuration from an optional YAML file at path,
// overlays environment variables and resolves the password from its secret
// source. An empty path means environment only. The result is validated.
func Load(path string) (RelayConfig, error) {
	fc, err := readFile(path)
	if err != nil {
		return RelayConfig{}, err
	}
	cfg, err := overlay(fc)
	if err != nil {
		return RelayConfig{}, err
	}

	if pw := strings.TrimSpace(getEnvString(EnvPassword, "")); pw != "" {
		cfg.Password = pw
	} else {
		cfg.Password, err = ResolveSecret(SecretSource{
			Value:   fc.Relay.Password,
			Env:     fc.Relay.PasswordEnv,
			File:    fc.Relay.PasswordFile,
			Keyring: fc.Relay.PasswordKeyring,
		})
		if err != nil {
			return RelayConfig{}, fmt.Errorf("resolving relay password: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

// LoadPreview is Load for callers that only render and print a message. The
// password is never resolved, so no secret file or keyring is touched, and
// only the sender identity is validated.
func LoadPreview(path string) (RelayConfig, error) {
	fc, err := readFile(path)
	if err != nil {
		return RelayConfig{}, err
	}
	cfg, err := overlay(fc)
	if err != nil {
		return RelayConfig{}, err
	}
	if err := cfg.ValidateSender(); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

func readFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("trying to open notifymail config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, &fc); err != nil {
		return fc, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}
	return fc, nil
}

// overlay applies environment overrides and defaults to everything but the
// password.
func overlay(fc fileConfig) (RelayConfig, error) {
	cfg := RelayConfig{
		Host:     getEnvString(EnvHost, fc.Relay.Host),
		Username: getEnvString(EnvUsername, fc.Relay.Username),
		Sender: Sender{
			Name:    getEnvString(EnvSenderName, fc.Sender.Name),
			Address: getEnvString(EnvSenderAddress, fc.Sender.Address),
		},
		Branding: Branding{
			Name:              getEnvString(EnvBrandingName, fc.Branding.Name),
			LinkExpiryMinutes: fc.Branding.LinkExpiryMinutes,
		},
	}

	port, err := getEnvInt(EnvPort, fc.Relay.Port)
	if err != nil {
		return RelayConfig{}, err
	}
	cfg.Port = port

	cfg.applyDefaults()
	return cfg, nil
}

func (c *RelayConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Branding.Name == "" {
		c.Branding.Name = DefaultBrandingName
	}
	if c.Branding.LinkExpiryMinutes <= 0 {
		c.Branding.LinkExpiryMinutes = DefaultLinkExpiryMinutes
	}
	if c.Sender.Name == "" {
		c.Sender.Name = c.Branding.Name + " Team"
	}
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number, got %q", ErrInvalidConfig, key, val)
	}
	return n, nil
}
