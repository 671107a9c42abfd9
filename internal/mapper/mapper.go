// Package mapper converts raw directory records into the normalized,
// store-agnostic entities the reconciliation engine works with.
//
// Only the identity attribute is required: a record without it is skipped,
// which is an expected condition for malformed directory entries, not an
// error. Every other attribute independently defaults to the empty string
// when absent or undecodable.
package mapper

import (
	goldap "github.com/go-ldap/ldap/v3"

	"github.com/creasty/defaults"

	"github.com/isometry/ldapsync/internal/ldap"
)

// AttributeMap names the directory attributes each normalized field is
// read from. The defaults match a stock Active Directory deployment.
type AttributeMap struct {
	UserIdentity   string `mapstructure:"user_identity" default:"mailNickname"`
	UserMail       string `mapstructure:"user_mail" default:"mail"`
	UserGivenName  string `mapstructure:"user_given_name" default:"givenName"`
	UserSurname    string `mapstructure:"user_surname" default:"sn"`
	UserExternalID string `mapstructure:"user_external_id" default:"ipPhone"`

	GroupName   string `mapstructure:"group_name" default:"cn"`
	GroupMember string `mapstructure:"group_member" default:"memberUid"`
}

// ApplyDefaults fills unset attribute names with their default values.
func (a *AttributeMap) ApplyDefaults() error {
	return defaults.Set(a)
}

// UserAttributes returns the attribute list to request in user searches.
func (a *AttributeMap) UserAttributes() []string {
	return []string{a.UserIdentity, a.UserMail, a.UserGivenName, a.UserSurname, a.UserExternalID}
}

// GroupAttributes returns the attribute list to request in group searches.
func (a *AttributeMap) GroupAttributes() []string {
	return []string{a.GroupName, a.GroupMember}
}

// NormalizedUser is a directory user record reduced to the fields the
// local store carries. Username is the only required field.
type NormalizedUser struct {
	Username   string
	FirstName  string
	LastName   string
	Email      string
	ExternalID string
}

// NormalizedGroup is a directory group record reduced to its name and
// member identifiers.
type NormalizedGroup struct {
	Name            string
	MemberUsernames []string
}

// Mapper normalizes raw directory entries.
type Mapper struct {
	attrs *AttributeMap
}

// New creates a mapper for the given attribute map.
func New(attrs *AttributeMap) *Mapper {
	return &Mapper{attrs: attrs}
}

// UserAttributes returns the attribute list to request in user searches.
func (m *Mapper) UserAttributes() []string { return m.attrs.UserAttributes() }

// GroupAttributes returns the attribute list to request in group searches.
func (m *Mapper) GroupAttributes() []string { return m.attrs.GroupAttributes() }

// MapUser converts one raw user entry. ok is false when the identity
// attribute is absent and the record must be skipped.
func (m *Mapper) MapUser(entry *goldap.Entry) (user NormalizedUser, ok bool) {
	username := ldap.TextValue(entry, m.attrs.UserIdentity)
	if username == "" {
		return NormalizedUser{}, false
	}

	return NormalizedUser{
		Username:   username,
		FirstName:  ldap.TextValue(entry, m.attrs.UserGivenName),
		LastName:   ldap.TextValue(entry, m.attrs.UserSurname),
		Email:      ldap.TextValue(entry, m.attrs.UserMail),
		ExternalID: ldap.TextValue(entry, m.attrs.UserExternalID),
	}, true
}

// MapGroup converts one raw group entry. ok is false when the name
// attribute is absent and the record must be skipped. Duplicate member
// identifiers are dropped, first occurrence wins.
func (m *Mapper) MapGroup(entry *goldap.Entry) (group NormalizedGroup, ok bool) {
	name := ldap.TextValue(entry, m.attrs.GroupName)
	if name == "" {
		return NormalizedGroup{}, false
	}

	raw := ldap.TextValues(entry, m.attrs.GroupMember)
	members := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, member := range raw {
		if _, dup := seen[member]; dup {
			continue
		}
		seen[member] = struct{}{}
		members = append(members, member)
	}

	return NormalizedGroup{
		Name:            name,
		MemberUsernames: members,
	}, true
}
