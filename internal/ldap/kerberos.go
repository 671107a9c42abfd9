package ldap

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

// kerberosBind performs GSSAPI/Kerberos authentication on a connection.
func kerberosBind(conn *ldap.Conn, cfg *Config, host string) error {
	principal, realm, err := kerberosPrincipal(cfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	gssapiClient, err := newGSSAPIClient(cfg, principal, realm)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn := fmt.Sprintf("ldap/%s", host)
	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// newGSSAPIClient creates a GSSAPI client from keytab or password
// credentials, in that order.
func newGSSAPIClient(cfg *Config, principal, realm string) (ldap.GSSAPIClient, error) {
	krb5conf := cfg.KerberosConfig
	if krb5conf == "" {
		krb5conf = "/etc/krb5.conf"
	}
	if !fileExists(krb5conf) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s", krb5conf)
	}

	if cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab) {
		return gssapi.NewClientWithKeytab(principal, realm, cfg.KerberosKeytab, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if principal != "" && cfg.BindPassword != "" {
		return gssapi.NewClientWithPassword(principal, realm, cfg.BindPassword, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no suitable credentials for kerberos authentication: provide kerberos_keytab or bind_password")
}

// kerberosPrincipal derives the principal and realm. A realm embedded in
// the bind identity (user@REALM) wins over the configured one.
func kerberosPrincipal(cfg *Config) (principal, realm string, err error) {
	principal = cfg.BindDN
	realm = cfg.KerberosRealm

	if at := strings.LastIndex(principal, "@"); at > 0 {
		realm = principal[at+1:]
		principal = principal[:at]
	}

	if realm == "" {
		return "", "", fmt.Errorf("kerberos realm is required (set kerberos_realm or include realm in the bind identity)")
	}
	if principal == "" {
		return "", "", fmt.Errorf("principal is required for kerberos authentication")
	}

	return principal, realm, nil
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
