package ldap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigApplyDefaults(t *testing.T) {
	cfg := &Config{URI: "ldap://dc.example.com"}
	require.NoError(t, cfg.ApplyDefaults())

	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.BackoffFactor)
}

func TestConfigApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		URI:        "ldap://dc.example.com",
		Timeout:    5 * time.Second,
		MaxRetries: 1,
	}
	require.NoError(t, cfg.ApplyDefaults())

	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.MaxRetries)
}

func TestConfigAuthMethod(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want AuthMethod
	}{
		{
			name: "simple bind",
			cfg:  Config{BindDN: "cn=sync,dc=example,dc=com", BindPassword: "secret"},
			want: AuthMethodSimpleBind,
		},
		{
			name: "kerberos with realm and principal",
			cfg:  Config{BindDN: "sync", KerberosRealm: "EXAMPLE.COM"},
			want: AuthMethodKerberos,
		},
		{
			name: "kerberos with keytab only",
			cfg:  Config{KerberosRealm: "EXAMPLE.COM", KerberosKeytab: "/etc/sync.keytab"},
			want: AuthMethodKerberos,
		},
		{
			name: "realm without credentials falls back to simple",
			cfg:  Config{KerberosRealm: "EXAMPLE.COM"},
			want: AuthMethodSimpleBind,
		},
		{
			name: "empty config",
			cfg:  Config{},
			want: AuthMethodSimpleBind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.AuthMethod())
		})
	}
}

func TestKerberosPrincipal(t *testing.T) {
	cfg := &Config{BindDN: "sync@EXAMPLE.COM"}

	principal, realm, err := kerberosPrincipal(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sync", principal)
	assert.Equal(t, "EXAMPLE.COM", realm)

	// Explicit realm loses to the one embedded in the principal.
	cfg = &Config{BindDN: "sync@EXAMPLE.COM", KerberosRealm: "OTHER.COM"}
	_, realm, err = kerberosPrincipal(cfg)
	require.NoError(t, err)
	assert.Equal(t, "EXAMPLE.COM", realm)

	_, _, err = kerberosPrincipal(&Config{BindDN: "sync"})
	assert.Error(t, err)
}
