package uci

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/markus-lassfolk/locationd/pkg/location"
)

// DefaultPath is where OpenWrt keeps the daemon configuration
const DefaultPath = "/etc/config/locationd"

// Config represents the locationd configuration
type Config struct {
	// Main configuration
	LogLevel       string `json:"log_level"`
	Method         string `json:"method"`
	UpdateInterval int    `json:"update_interval"`
	PluginDir      string `json:"plugin_dir"`
	ZonesFile      string `json:"zones_file"`
	SettingsDB     string `json:"settings_db"`
	PIDFile        string `json:"pid_file"`

	// Providers by kind (gps, wps, sps, cps, ips, geocode)
	Providers map[string]*ProviderConfig `json:"providers"`

	MQTT    MQTTConfig    `json:"mqtt"`
	Metrics MetricsConfig `json:"metrics"`
	API     APIConfig     `json:"api"`
}

// ProviderConfig selects and tunes the backend serving one kind
type ProviderConfig struct {
	Kind    string              `json:"kind"`
	Backend string              `json:"backend"`
	Enabled bool                `json:"enabled"`
	Options map[string]string   `json:"options"`
	Lists   map[string][]string `json:"lists"`
}

// MQTTConfig represents MQTT configuration
type MQTTConfig struct {
	Enabled     bool    `json:"enabled"`
	Broker      string  `json:"broker"`
	Port        int     `json:"port"`
	ClientID    string  `json:"client_id"`
	Username    string  `json:"username"`
	Password    string  `json:"password"`
	TopicPrefix string  `json:"topic_prefix"`
	QoS         int     `json:"qos"`
	Retain      bool    `json:"retain"`
	MaxRate     float64 `json:"max_rate"`
}

// MetricsConfig represents the standalone metrics listener
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// APIConfig represents the HTTP API listener
type APIConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	AuthKey  string `json:"auth_key"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

// backends lists the built-in backends each kind accepts. "plugin" loads
// the kind from the plugin directory instead.
var backends = map[string][]string{
	"gps":     {"nmea", "sim", "plugin"},
	"wps":     {"googlemaps", "sim", "plugin"},
	"sps":     {"sps", "plugin"},
	"cps":     {"celldb", "plugin"},
	"ips":     {"ipgeo", "plugin"},
	"geocode": {"googlemaps", "plugin"},
}

// LoadConfig loads and validates the configuration. The default path is read
// through the uci command when it is available; any other path, or a host
// without uci, is parsed directly. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	if path == DefaultPath {
		if cfg, err := NewUCI(nil).Load(); err == nil {
			return cfg, nil
		}
	}
	return loadConfigFromFile(path)
}

func loadConfigFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		cfg := NewConfig()
		return cfg, cfg.validate()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// NewConfig returns a configuration holding only defaults
func NewConfig() *Config {
	c := &Config{Providers: make(map[string]*ProviderConfig)}
	c.setDefaults()
	return c
}

// Parse reads UCI text (the /etc/config syntax, or `uci export` output)
func Parse(r io.Reader) (*Config, error) {
	c := NewConfig()
	if err := c.parseUCI(r); err != nil {
		return nil, fmt.Errorf("failed to parse UCI config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return c, nil
}

// setDefaults sets default values for the configuration
func (c *Config) setDefaults() {
	c.LogLevel = "info"
	c.Method = "hybrid"
	c.UpdateInterval = 1
	c.PluginDir = "/usr/lib/locationd/plugins"
	c.ZonesFile = "/etc/locationd/zones.yaml"
	c.SettingsDB = "/etc/locationd/settings.db"
	c.PIDFile = "/var/run/locationd.pid"

	c.MQTT = MQTTConfig{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "locationd",
		TopicPrefix: "locationd",
		QoS:         1,
		MaxRate:     10,
	}
	c.Metrics = MetricsConfig{Listen: ":9101"}
	c.API = APIConfig{Host: "localhost", Port: 8081}
}

// parseUCI walks config/option/list lines
func (c *Config) parseUCI(r io.Reader) error {
	var sectionType, sectionName string
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "package ") {
			continue
		}

		keyword, rest := cut(line)
		switch keyword {
		case "config":
			sectionType, rest = cut(rest)
			sectionName = unquote(rest)
			if sectionType == "" {
				return fmt.Errorf("line %d: config without a section type", lineNo)
			}
			if sectionType == "provider" {
				if sectionName == "" {
					return fmt.Errorf("line %d: provider section needs a kind name", lineNo)
				}
				c.provider(sectionName)
			}
		case "option", "list":
			name, value := cut(rest)
			if name == "" {
				return fmt.Errorf("line %d: %s without a name", lineNo, keyword)
			}
			value = unquote(value)
			if keyword == "list" {
				c.parseList(sectionType, sectionName, name, value)
			} else if err := c.parseOption(sectionType, sectionName, name, value); err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
		default:
			return fmt.Errorf("line %d: unexpected %q", lineNo, keyword)
		}
	}
	return scanner.Err()
}

func cut(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func (c *Config) provider(kind string) *ProviderConfig {
	p, ok := c.Providers[kind]
	if !ok {
		p = &ProviderConfig{
			Kind:    kind,
			Backend: defaultBackend(kind),
			Enabled: true,
			Options: make(map[string]string),
			Lists:   make(map[string][]string),
		}
		c.Providers[kind] = p
	}
	return p
}

func defaultBackend(kind string) string {
	if b, ok := backends[kind]; ok {
		return b[0]
	}
	return ""
}

// parseOption routes options to appropriate parsers based on section type
func (c *Config) parseOption(sectionType, sectionName, option, value string) error {
	switch sectionType {
	case "locationd":
		return c.parseMainOption(option, value)
	case "provider":
		p := c.provider(sectionName)
		switch option {
		case "backend":
			p.Backend = value
		case "enabled":
			p.Enabled = value == "1"
		default:
			p.Options[option] = value
		}
	case "mqtt":
		return c.parseMQTTOption(option, value)
	case "metrics":
		switch option {
		case "enabled":
			c.Metrics.Enabled = value == "1"
		case "listen":
			c.Metrics.Listen = value
		}
	case "api":
		return c.parseAPIOption(option, value)
	}
	return nil
}

func (c *Config) parseList(sectionType, sectionName, name, value string) {
	if sectionType != "provider" {
		return
	}
	p := c.provider(sectionName)
	p.Lists[name] = append(p.Lists[name], value)
}

func (c *Config) parseMainOption(option, value string) error {
	switch option {
	case "log_level":
		c.LogLevel = value
	case "method":
		c.Method = value
	case "update_interval":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("update_interval: %w", err)
		}
		c.UpdateInterval = n
	case "plugin_dir":
		c.PluginDir = value
	case "zones_file":
		c.ZonesFile = value
	case "settings_db":
		c.SettingsDB = value
	case "pid_file":
		c.PIDFile = value
	}
	return nil
}

func (c *Config) parseMQTTOption(option, value string) error {
	var err error
	switch option {
	case "enabled":
		c.MQTT.Enabled = value == "1"
	case "broker":
		c.MQTT.Broker = value
	case "port":
		c.MQTT.Port, err = strconv.Atoi(value)
	case "client_id":
		c.MQTT.ClientID = value
	case "username":
		c.MQTT.Username = value
	case "password":
		c.MQTT.Password = value
	case "topic_prefix":
		c.MQTT.TopicPrefix = value
	case "qos":
		c.MQTT.QoS, err = strconv.Atoi(value)
	case "retain":
		c.MQTT.Retain = value == "1"
	case "max_rate":
		c.MQTT.MaxRate, err = strconv.ParseFloat(value, 64)
	}
	if err != nil {
		return fmt.Errorf("mqtt %s: %w", option, err)
	}
	return nil
}

func (c *Config) parseAPIOption(option, value string) error {
	var err error
	switch option {
	case "enabled":
		c.API.Enabled = value == "1"
	case "host":
		c.API.Host = value
	case "port":
		c.API.Port, err = strconv.Atoi(value)
	case "auth_key":
		c.API.AuthKey = value
	case "cert_file":
		c.API.CertFile = value
	case "key_file":
		c.API.KeyFile = value
	}
	if err != nil {
		return fmt.Errorf("api %s: %w", option, err)
	}
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if _, err := location.ParseMethod(c.Method); err != nil {
		return fmt.Errorf("invalid method: %w", err)
	}
	if c.UpdateInterval < 1 || c.UpdateInterval > 120 {
		return fmt.Errorf("update_interval must be between 1 and 120")
	}
	for kind, p := range c.Providers {
		allowed, ok := backends[kind]
		if !ok {
			return fmt.Errorf("unknown provider kind %q", kind)
		}
		if !contains(allowed, p.Backend) {
			return fmt.Errorf("provider %s: backend %q not one of %s", kind, p.Backend, strings.Join(allowed, ", "))
		}
	}
	if c.MQTT.Enabled && (c.MQTT.Port < 1 || c.MQTT.Port > 65535) {
		return fmt.Errorf("mqtt port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		return fmt.Errorf("api port must be between 1 and 65535")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	return contains([]string{"trace", "debug", "info", "warn", "error"}, level)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Kinds returns the configured provider kinds in sorted order
func (c *Config) Kinds() []string {
	kinds := make([]string, 0, len(c.Providers))
	for k := range c.Providers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// String returns the option, or def when unset
func (p *ProviderConfig) String(option, def string) string {
	if v, ok := p.Options[option]; ok && v != "" {
		return v
	}
	return def
}

// Int returns the option as an integer, or def when unset or malformed
func (p *ProviderConfig) Int(option string, def int) int {
	if n, err := strconv.Atoi(p.Options[option]); err == nil {
		return n
	}
	return def
}

// Float returns the option as a float, or def when unset or malformed
func (p *ProviderConfig) Float(option string, def float64) float64 {
	if f, err := strconv.ParseFloat(p.Options[option], 64); err == nil {
		return f
	}
	return def
}

// Bool returns the option as a UCI boolean, or def when unset
func (p *ProviderConfig) Bool(option string, def bool) bool {
	switch p.Options[option] {
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	}
	return def
}

// Seconds returns the option, a number of seconds, as a duration
func (p *ProviderConfig) Seconds(option string, def time.Duration) time.Duration {
	if f, err := strconv.ParseFloat(p.Options[option], 64); err == nil && f >= 0 {
		return time.Duration(f * float64(time.Second))
	}
	return def
}
