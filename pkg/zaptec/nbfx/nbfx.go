package nbfx

import "fmt"

// Record type tags for the .NET Binary Format: XML Data Structure.
// https://learn.microsoft.com/en-us/openspecs/windows_protocols/mc-nbfx
// Only the subset observed on the Zaptec message stream is supported.
const (
	recEndElement   byte = 0x01
	recShortXmlns   byte = 0x08
	recShortElement byte = 0x40
	recChars8Text   byte = 0x98
	recChars16Text  byte = 0x9A
)

// Element is a decoded XML element. The stream carries flat elements whose
// text payload is an embedded JSON document.
type Element struct {
	Name  string
	XMLNS string
	Text  string
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) remaining() int {
	return len(d.data) - d.pos
}

func (d *decoder) readByte() (byte, error) {
	if d.remaining() < 1 {
		return 0, fmt.Errorf("unexpected end of data at offset %d", d.pos)
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) read(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, fmt.Errorf("unexpected end of data at offset %d", d.pos)
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// readString reads a length-prefixed UTF-8 string. Chars16 records carry a
// two byte little-endian length, the other records a single length byte.
func (d *decoder) readString(record byte) (string, error) {
	var length int
	if record == recChars16Text {
		b, err := d.read(2)
		if err != nil {
			return "", err
		}
		length = int(b[0]) | int(b[1])<<8
	} else {
		b, err := d.readByte()
		if err != nil {
			return "", err
		}
		length = int(b)
	}
	b, err := d.read(length)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode unpacks a binary XML message into its elements. The decoder is
// deliberately partial: any record type outside the supported subset is an
// unrecoverable format error.
func Decode(data []byte) ([]Element, error) {
	d := &decoder{data: data}
	var root []Element

	for d.remaining() > 0 {
		record, err := d.readByte()
		if err != nil {
			return nil, err
		}
		if record != recShortElement {
			return nil, fmt.Errorf("unknown record type 0x%02x", record)
		}

		var elem Element
		elem.Name, err = d.readString(record)
		if err != nil {
			return nil, err
		}

		for {
			record, err := d.readByte()
			if err != nil {
				return nil, err
			}
			if record == recEndElement {
				break
			}
			switch record {
			case recShortXmlns:
				elem.XMLNS, err = d.readString(record)
			case recChars8Text, recChars16Text:
				elem.Text, err = d.readString(record)
			default:
				return nil, fmt.Errorf("unknown record type 0x%02x", record)
			}
			if err != nil {
				return nil, err
			}
		}
		root = append(root, elem)
	}
	return root, nil
}
