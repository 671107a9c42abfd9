// Package config aggregates application configuration from environment
// variables, an optional config file and a local .env file, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/isometry/ldapsync/internal/ldap"
	"github.com/isometry/ldapsync/internal/mapper"
	"github.com/isometry/ldapsync/internal/store/sqlite"
	"github.com/isometry/ldapsync/internal/sync"
)

// StoreConfig locates the local identity store.
type StoreConfig struct {
	Path string `mapstructure:"path" default:"ldapsync.db"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level" default:"info"`
	Format string `mapstructure:"format" default:"text"` // text or json
}

// Config is the full application configuration.
type Config struct {
	Directory  ldap.Config         `mapstructure:"directory"`
	Sync       sync.Options        `mapstructure:"sync"`
	Attributes mapper.AttributeMap `mapstructure:"attributes"`
	Store      StoreConfig         `mapstructure:"store"`
	Log        LogConfig           `mapstructure:"log"`
}

// Load builds the configuration. Environment variables use the LDAPSYNC
// prefix with underscores for nesting (LDAPSYNC_DIRECTORY_URI). When file
// is empty, an ldapsync.yaml in the working directory or /etc/ldapsync is
// picked up if present; a file named explicitly must exist.
func Load(file string) (*Config, error) {
	_ = godotenv.Load() // optional .env

	v := viper.New()
	v.SetEnvPrefix("LDAPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("ldapsync")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ldapsync")
		if err := v.ReadInConfig(); err != nil {
			// the file is optional, but a present-and-broken one is not
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv picks it up during
// Unmarshal. Values mirror the struct defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("directory.uri", "")
	v.SetDefault("directory.base_dn", "")
	v.SetDefault("directory.timeout", "30s")
	v.SetDefault("directory.bind_dn", "")
	v.SetDefault("directory.bind_password", "")
	v.SetDefault("directory.kerberos_realm", "")
	v.SetDefault("directory.kerberos_keytab", "")
	v.SetDefault("directory.kerberos_config", "")
	v.SetDefault("directory.start_tls", false)
	v.SetDefault("directory.insecure_skip_verify", false)
	v.SetDefault("directory.max_retries", 3)
	v.SetDefault("directory.initial_backoff", "500ms")
	v.SetDefault("directory.max_backoff", "30s")
	v.SetDefault("directory.backoff_factor", 2.0)

	v.SetDefault("sync.base_dn", "")
	v.SetDefault("sync.group_base_dn", "")
	v.SetDefault("sync.user_filter", "")
	v.SetDefault("sync.group_filter", "")
	v.SetDefault("sync.page_size", 0)

	v.SetDefault("attributes.user_identity", "")
	v.SetDefault("attributes.user_mail", "")
	v.SetDefault("attributes.user_given_name", "")
	v.SetDefault("attributes.user_surname", "")
	v.SetDefault("attributes.user_external_id", "")
	v.SetDefault("attributes.group_name", "")
	v.SetDefault("attributes.group_member", "")

	v.SetDefault("store.path", "")
	v.SetDefault("log.level", "")
	v.SetDefault("log.format", "")
}

func (c *Config) applyDefaults() error {
	if err := c.Directory.ApplyDefaults(); err != nil {
		return err
	}
	if err := c.Sync.ApplyDefaults(); err != nil {
		return err
	}
	if err := c.Attributes.ApplyDefaults(); err != nil {
		return err
	}
	if c.Store.Path == "" {
		c.Store.Path = "ldapsync.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Sync.BaseDN == "" {
		c.Sync.BaseDN = c.Directory.BaseDN
	}
	if c.Sync.GroupBaseDN == "" && c.Sync.BaseDN != "" {
		c.Sync.GroupBaseDN = "ou=Groups," + c.Sync.BaseDN
	}
	return nil
}

func (c *Config) validate() error {
	if c.Directory.URI == "" {
		return fmt.Errorf("directory.uri is required")
	}
	if c.Directory.BaseDN == "" {
		return fmt.Errorf("directory.base_dn is required")
	}
	return nil
}

// OpenStore opens the configured sqlite store and ensures its schema.
func (c *Config) OpenStore() (*sqlite.Store, error) {
	db, err := sqlite.Open(c.Store.Path)
	if err != nil {
		return nil, err
	}
	return sqlite.New(db), nil
}
