package ldap

import (
	"fmt"
	"unicode/utf8"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// Directory attributes that are stored in binary form and need dedicated
// decoding before they can be compared with local text fields.
const (
	attrObjectSid  = "objectSid"
	attrObjectGUID = "objectGUID"
)

// TextValue returns the first value of attr decoded to text. Binary
// objectSid/objectGUID values are converted to their canonical string
// forms; any other value must be valid UTF-8. A missing attribute or a
// value that cannot be decoded yields the empty string, never an error.
func TextValue(entry *ldap.Entry, attr string) string {
	values := TextValues(entry, attr)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// TextValues returns all values of attr decoded to text, preserving server
// order. Values that cannot be decoded are dropped.
func TextValues(entry *ldap.Entry, attr string) []string {
	if entry == nil {
		return nil
	}

	raw := entry.GetRawAttributeValues(attr)
	if len(raw) == 0 {
		return nil
	}

	values := make([]string, 0, len(raw))
	for _, v := range raw {
		if s := decodeValue(attr, v); s != "" {
			values = append(values, s)
		}
	}
	return values
}

func decodeValue(attr string, raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	switch attr {
	case attrObjectSid:
		return DecodeSID(raw)
	case attrObjectGUID:
		s, err := DecodeGUID(raw)
		if err != nil {
			return ""
		}
		return s
	}

	if !utf8.Valid(raw) {
		return ""
	}
	return string(raw)
}

// DecodeSID converts a binary security identifier to its S-1-... string
// form, or empty string when the value is malformed.
func DecodeSID(raw []byte) (s string) {
	// objectsid.Decode indexes into the raw slice without bounds checks.
	defer func() {
		if recover() != nil {
			s = ""
		}
	}()

	if len(raw) < 8 {
		return ""
	}

	sid := objectsid.Decode(raw)
	return sid.String()
}

// DecodeGUID converts a binary objectGUID to its hyphenated string form.
// Active Directory stores the first three GUID fields little-endian, so the
// bytes are reordered before standard UUID rendering.
func DecodeGUID(raw []byte) (string, error) {
	if len(raw) != 16 {
		return "", fmt.Errorf("objectGUID must be 16 bytes, got %d", len(raw))
	}

	ordered := []byte{
		raw[3], raw[2], raw[1], raw[0],
		raw[5], raw[4],
		raw[7], raw[6],
		raw[8], raw[9],
		raw[10], raw[11], raw[12], raw[13], raw[14], raw[15],
	}

	id, err := uuid.FromBytes(ordered)
	if err != nil {
		return "", fmt.Errorf("decode objectGUID: %w", err)
	}

	return id.String(), nil
}
