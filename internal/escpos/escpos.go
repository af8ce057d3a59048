// Package escpos generates ESC/POS command bytes for thermal receipt printers.
//
// The encoder performs no I/O. Every method appends to an internal buffer and
// the same sequence of calls always yields the same bytes, so documents can be
// verified byte-for-byte before anything touches a printer.
package escpos

import (
	"bytes"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// ESC/POS control bytes
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
	LF  byte = 0x0A
)

// Alignment selects horizontal alignment for subsequent lines.
type Alignment byte

const (
	AlignLeft   Alignment = 0
	AlignCenter Alignment = 1
	AlignRight  Alignment = 2
)

// Size selects the character magnification.
type Size byte

const (
	SizeNormal Size = iota
	SizeDouble
)

// TextEncoding selects how Text converts Go strings to printer bytes.
type TextEncoding int

const (
	// EncodingShiftJIS converts text to the printer's native Shift-JIS code
	// page. Runes with no Shift-JIS representation degrade to '?'.
	EncodingShiftJIS TextEncoding = iota
	// EncodingASCII keeps 7-bit characters and replaces everything else
	// with '?'. Fallback for printers without a kanji ROM.
	EncodingASCII
)

// Encoder builds an ESC/POS byte stream.
type Encoder struct {
	buf      bytes.Buffer
	encoding TextEncoding
}

// NewEncoder creates an encoder emitting Shift-JIS text.
func NewEncoder() *Encoder {
	return &Encoder{encoding: EncodingShiftJIS}
}

// NewEncoderWithEncoding creates an encoder with an explicit text encoding.
func NewEncoderWithEncoding(enc TextEncoding) *Encoder {
	return &Encoder{encoding: enc}
}

// Initialize emits ESC @, resetting all printer state. Always first in a
// document.
func (e *Encoder) Initialize() {
	e.buf.Write([]byte{ESC, '@'})
}

// SetAlignment emits ESC a n.
func (e *Encoder) SetAlignment(a Alignment) {
	e.buf.Write([]byte{ESC, 'a', byte(a)})
}

// SetEmphasis emits ESC E n. Emphasis is sticky on the printer; callers must
// switch it off again after a bold section.
func (e *Encoder) SetEmphasis(on bool) {
	n := byte(0)
	if on {
		n = 1
	}
	e.buf.Write([]byte{ESC, 'E', n})
}

// SetSize emits GS ! n. SizeDouble doubles both width and height.
func (e *Encoder) SetSize(s Size) {
	n := byte(0x00)
	if s == SizeDouble {
		n = 0x11
	}
	e.buf.Write([]byte{GS, '!', n})
}

// Text encodes a string in the configured encoding and appends it without a
// trailing line feed.
func (e *Encoder) Text(s string) {
	e.buf.Write(encodeText(s, e.encoding))
}

// TextLine encodes a string and appends a line feed.
func (e *Encoder) TextLine(s string) {
	e.Text(s)
	e.LineFeed()
}

// LineFeed emits LF.
func (e *Encoder) LineFeed() {
	e.buf.WriteByte(LF)
}

// Feed emits n line feeds.
func (e *Encoder) Feed(n int) {
	for i := 0; i < n; i++ {
		e.LineFeed()
	}
}

// Cut emits GS V 1, a partial cut. Printers without a cutter ignore it.
func (e *Encoder) Cut() {
	e.buf.Write([]byte{GS, 'V', 1})
}

// Bytes returns the accumulated command stream.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Len returns the number of bytes accumulated so far.
func (e *Encoder) Len() int {
	return e.buf.Len()
}

// Reset clears the buffer.
func (e *Encoder) Reset() {
	e.buf.Reset()
}

var eastAsian = &runewidth.Condition{EastAsianWidth: true}

// DisplayWidth returns the number of print columns a string occupies on the
// printer. Kana and kanji occupy two columns each, so padding arithmetic must
// use this rather than len or the rune count, or right-aligned totals drift.
func DisplayWidth(s string) int {
	return eastAsian.StringWidth(s)
}

// PadBetween returns left and right joined with enough spaces to fill width
// print columns, right-justifying right. When the two sides do not fit, a
// single space keeps them separated and the line overflows rather than
// truncating an amount.
func PadBetween(left, right string, width int) string {
	gap := width - DisplayWidth(left) - DisplayWidth(right)
	if gap < 1 {
		gap = 1
	}
	return left + spaces(gap) + right
}

// PadLeft right-justifies s within width print columns.
func PadLeft(s string, width int) string {
	gap := width - DisplayWidth(s)
	if gap <= 0 {
		return s
	}
	return spaces(gap) + s
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

func encodeText(s string, enc TextEncoding) []byte {
	switch enc {
	case EncodingASCII:
		out := make([]byte, 0, len(s))
		for _, r := range s {
			if r < 0x20 && r != '\n' && r != '\t' {
				continue
			}
			if r < 0x80 {
				out = append(out, byte(r))
			} else {
				out = append(out, '?')
			}
		}
		return out
	default:
		encoded, _, err := transform.Bytes(japanese.ShiftJIS.NewEncoder(), []byte(s))
		if err != nil {
			// Re-encode rune by rune so one unmappable character does
			// not drop the rest of the line.
			var out bytes.Buffer
			for _, r := range s {
				b, _, rerr := transform.Bytes(japanese.ShiftJIS.NewEncoder(), []byte(string(r)))
				if rerr != nil {
					out.WriteByte('?')
					continue
				}
				out.Write(b)
			}
			return out.Bytes()
		}
		return encoded
	}
}
