package nbfx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encode helpers build wire messages for the decoder tests. There is no
// production encoder since the client only consumes the stream.

func shortElement(name string) []byte {
	return append([]byte{recShortElement, byte(len(name))}, name...)
}

func shortXmlns(value string) []byte {
	return append([]byte{recShortXmlns, byte(len(value))}, value...)
}

func chars8Text(value string) []byte {
	return append([]byte{recChars8Text, byte(len(value))}, value...)
}

func chars16Text(value string) []byte {
	out := []byte{recChars16Text, byte(len(value) & 0xff), byte(len(value) >> 8)}
	return append(out, value...)
}

func TestDecode(t *testing.T) {
	msg := []byte{
		0x40, 0x05, 'H', 'e', 'l', 'l', 'o', // short element "Hello"
		0x08, 0x03, 'x', 'm', 'l', // short xmlns attribute "xml"
		0x98, 0x05, 'W', 'o', 'r', 'l', 'd', // chars8text "World"
		0x01, // end element
	}

	got, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, []Element{{Name: "Hello", XMLNS: "xml", Text: "World"}}, got)
}

func TestDecodeStreamPayload(t *testing.T) {
	const xmlns = "http://schemas.microsoft.com/2003/10/Serialization/"
	const payload = `{"DeviceId":"ZAP000000","DeviceType":4,` +
		`"ChargerId":"xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx","StateId":523,` +
		`"Timestamp":"2023-07-28T09:07:19.23","ValueAsString":"0.000"}`

	var msg []byte
	msg = append(msg, shortElement("string")...)
	msg = append(msg, shortXmlns(xmlns)...)
	msg = append(msg, chars8Text(payload)...)
	msg = append(msg, recEndElement)

	got, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, []Element{{Name: "string", XMLNS: xmlns, Text: payload}}, got)
}

func TestDecodeChars16(t *testing.T) {
	// Payloads over 255 bytes arrive as chars16text records with a two
	// byte little-endian length.
	payload := `{"DeviceId":"ZAP000000","ValueAsString":"` + strings.Repeat("x", 300) + `"}`
	require.Greater(t, len(payload), 0xff)

	var msg []byte
	msg = append(msg, shortElement("string")...)
	msg = append(msg, chars16Text(payload)...)
	msg = append(msg, recEndElement)

	got, err := Decode(msg)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "string", got[0].Name)
	assert.Equal(t, payload, got[0].Text)
	assert.Empty(t, got[0].XMLNS)
}

func TestDecodeMultipleElements(t *testing.T) {
	var msg []byte
	msg = append(msg, shortElement("first")...)
	msg = append(msg, chars8Text("one")...)
	msg = append(msg, recEndElement)
	msg = append(msg, shortElement("second")...)
	msg = append(msg, recEndElement)

	got, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, []Element{
		{Name: "first", Text: "one"},
		{Name: "second"},
	}, got)
}

func TestDecodeEmpty(t *testing.T) {
	got, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
		want string
	}{
		{"unknown top level record", []byte{0x99, 0x01, 'x'}, "unknown record type 0x99"},
		{"end element at top level", []byte{0x01}, "unknown record type 0x01"},
		{
			"unknown record inside element",
			append(append(shortElement("a"), 0x42), recEndElement),
			"unknown record type 0x42",
		},
		{"truncated name", []byte{0x40, 0x05, 'H', 'e'}, "unexpected end of data"},
		{"missing end element", shortElement("a"), "unexpected end of data"},
		{
			"truncated chars16 length",
			append(shortElement("a"), recChars16Text, 0x01),
			"unexpected end of data",
		},
		{
			"truncated text",
			append(shortElement("a"), recChars8Text, 0x20, 'x'),
			"unexpected end of data",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.msg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
