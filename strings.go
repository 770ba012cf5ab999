package amserial

import "unicode/utf8"

// StringCodec is the pluggable encode/decode seam behind the string
// read/write variants. Decode failure must return ok=false without
// losing the fact that the underlying bytes were already consumed off
// the wire.
type StringCodec interface {
	Decode(b []byte) (s string, ok bool)
	Encode(s string) (b []byte, ok bool)
}

// UTF8Codec is the default StringCodec. No third-party text-encoding
// package fits this concern, so this is implemented directly on
// unicode/utf8 (see DESIGN.md).
type UTF8Codec struct{}

func (UTF8Codec) Decode(b []byte) (string, bool) {
	if !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}

func (UTF8Codec) Encode(s string) ([]byte, bool) {
	return []byte(s), true
}

// DefaultStringCodec is used by the String* methods below when a
// caller doesn't supply one of their own.
var DefaultStringCodec StringCodec = UTF8Codec{}

// ReadString delegates to Read and decodes the result with codec (or
// DefaultStringCodec if nil).
func (p *Port) ReadString(codec StringCodec) (string, EndCode, error) {
	data, end, err := p.Read()
	return decodeOrEmpty(data, codec), end, err
}

// ReadBytesString delegates to ReadBytes.
func (p *Port) ReadBytesString(n int, codec StringCodec) (string, EndCode, error) {
	data, end, err := p.ReadBytes(n)
	return decodeOrEmpty(data, codec), end, err
}

// ReadUpToCharString delegates to ReadUpToChar.
func (p *Port) ReadUpToCharString(stopChar byte, codec StringCodec) (string, EndCode, error) {
	data, end, err := p.ReadUpToChar(stopChar)
	return decodeOrEmpty(data, codec), end, err
}

// ReadBytesUpToCharString delegates to ReadBytesUpToChar.
func (p *Port) ReadBytesUpToCharString(n int, stopChar byte, codec StringCodec) (string, EndCode, error) {
	data, end, err := p.ReadBytesUpToChar(n, stopChar)
	return decodeOrEmpty(data, codec), end, err
}

func decodeOrEmpty(data []byte, codec StringCodec) string {
	if codec == nil {
		codec = DefaultStringCodec
	}
	s, ok := codec.Decode(data)
	if !ok {
		return ""
	}
	return s
}

// WriteString encodes s with codec (or DefaultStringCodec if nil) and
// writes the result, failing with CodeNoDataToWrite if the encode step
// itself fails.
func (p *Port) WriteString(s string, codec StringCodec) (int, error) {
	if codec == nil {
		codec = DefaultStringCodec
	}
	b, ok := codec.Encode(s)
	if !ok {
		return 0, newError(CodeNoDataToWrite, "write string: encode failed", nil)
	}
	return p.Write(b)
}
