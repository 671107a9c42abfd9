package ldap

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeGUID(t *testing.T) {
	// AD stores the first three GUID fields little-endian.
	raw := []byte{
		0x04, 0x03, 0x02, 0x01,
		0x06, 0x05,
		0x08, 0x07,
		0x09, 0x0a,
		0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
	}

	got, err := DecodeGUID(raw)
	require.NoError(t, err)
	assert.Equal(t, "01020304-0506-0708-090a-0b0c0d0e0f10", got)
}

func TestDecodeGUIDWrongLength(t *testing.T) {
	_, err := DecodeGUID([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestDecodeSID(t *testing.T) {
	// revision 1, 2 sub-authorities, authority 5, subs 21 and 1000.
	raw := []byte{
		0x01, 0x02,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x05,
		0x15, 0x00, 0x00, 0x00,
		0xe8, 0x03, 0x00, 0x00,
	}

	assert.Equal(t, "S-1-5-21-1000", DecodeSID(raw))
}

func TestDecodeSIDMalformed(t *testing.T) {
	assert.Equal(t, "", DecodeSID(nil))
	assert.Equal(t, "", DecodeSID([]byte{0x01}))
	// Claims more sub-authorities than the buffer holds.
	assert.Equal(t, "", DecodeSID([]byte{0x01, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05, 0x15}))
}

func TestTextValue(t *testing.T) {
	entry := ldap.NewEntry("cn=alice,dc=example,dc=com", map[string][]string{
		"mailNickname": {"alice"},
		"mail":         {"alice@example.com", "a.liddell@example.com"},
	})

	assert.Equal(t, "alice", TextValue(entry, "mailNickname"))
	assert.Equal(t, "alice@example.com", TextValue(entry, "mail"))
	assert.Equal(t, "", TextValue(entry, "givenName"))
	assert.Equal(t, "", TextValue(nil, "mail"))
}

func TestTextValueInvalidUTF8(t *testing.T) {
	entry := &ldap.Entry{
		DN: "cn=broken,dc=example,dc=com",
		Attributes: []*ldap.EntryAttribute{
			{Name: "ipPhone", ByteValues: [][]byte{{0xff, 0xfe, 0x00}}},
		},
	}

	// Undecodable values fall back to empty, same as absent values.
	assert.Equal(t, "", TextValue(entry, "ipPhone"))
}

func TestTextValuesOrder(t *testing.T) {
	entry := ldap.NewEntry("cn=engineering,ou=Groups,dc=example,dc=com", map[string][]string{
		"memberUid": {"alice", "bob", "carol"},
	})

	assert.Equal(t, []string{"alice", "bob", "carol"}, TextValues(entry, "memberUid"))
}
