package ldap

import (
	"time"

	"github.com/creasty/defaults"
)

// Config holds everything needed to open and authenticate one directory
// session. It is passed in explicitly at construction; the connector never
// reads ambient state.
type Config struct {
	// Connection settings
	URI     string        `mapstructure:"uri"`     // ldap:// or ldaps:// URL
	BaseDN  string        `mapstructure:"base_dn"` // Base DN for searches
	Timeout time.Duration `mapstructure:"timeout" default:"30s"`

	// Authentication settings
	BindDN         string `mapstructure:"bind_dn"`
	BindPassword   string `mapstructure:"bind_password"`
	KerberosRealm  string `mapstructure:"kerberos_realm"`  // Realm for GSSAPI authentication
	KerberosKeytab string `mapstructure:"kerberos_keytab"` // Path to keytab file
	KerberosConfig string `mapstructure:"kerberos_config"` // Path to krb5.conf

	// TLS settings
	StartTLS           bool `mapstructure:"start_tls"`
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`

	// Retry settings for the initial connect/bind. Paged searches are never
	// retried mid-sequence; the continuation cookie embeds server state.
	MaxRetries     int           `mapstructure:"max_retries" default:"3"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" default:"500ms"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" default:"30s"`
	BackoffFactor  float64       `mapstructure:"backoff_factor" default:"2.0"`
}

// ApplyDefaults fills unset fields with their default values.
func (c *Config) ApplyDefaults() error {
	return defaults.Set(c)
}

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota // Bind DN + password
	AuthMethodKerberos                     // GSSAPI/Kerberos
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	default:
		return "unknown"
	}
}

// AuthMethod determines the authentication method from the configuration.
// Kerberos takes precedence when a realm is configured.
func (c *Config) AuthMethod() AuthMethod {
	if c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.BindDN != "") {
		return AuthMethodKerberos
	}
	return AuthMethodSimpleBind
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

// String returns string representation of the scope.
func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// SearchRequest encapsulates the parameters of one paged directory search.
type SearchRequest struct {
	BaseDN     string
	Scope      SearchScope
	Filter     string
	Attributes []string
}

// SearchStats describes how a paged search completed.
type SearchStats struct {
	Pages   int  // Pages received from the server
	Entries int  // Entries yielded to the caller
	Paged   bool // False when the server ignored the RFC 2696 control
}
