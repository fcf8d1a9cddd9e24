package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

type decodeFunc func(d *Decoder, version uint8) (Packet, error)

// Decoder reads frames from a byte stream. It is not safe for
// concurrent use; each session owns one.
type Decoder struct {
	r      *bufio.Reader
	limits Limits
}

// NewDecoder wraps r. A zero MaxFieldBytes falls back to DefaultLimits.
func NewDecoder(r io.Reader, limits Limits) *Decoder {
	if limits.MaxFieldBytes <= 0 {
		limits = DefaultLimits()
	}

	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	return &Decoder{r: br, limits: limits}
}

// ReadMagic reads the 3-byte family marker. A stream that ends cleanly
// before the first byte returns io.EOF unwrapped.
func (d *Decoder) ReadMagic() (Magic, error) {
	var m Magic

	if _, err := io.ReadFull(d.r, m[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return m, io.EOF
		}

		return m, fmt.Errorf("reading magic: %w", bodyErr(err))
	}

	return m, nil
}

// ReadVersion reads the version byte that follows the magic.
func (d *Decoder) ReadVersion() (uint8, error) {
	v, err := d.r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("reading version: %w", bodyErr(err))
	}

	return v, nil
}

// ReadHeader reads magic and version together.
func (d *Decoder) ReadHeader() (Header, error) {
	m, err := d.ReadMagic()
	if err != nil {
		return Header{}, err
	}

	v, err := d.ReadVersion()
	if err != nil {
		return Header{}, err
	}

	return Header{Magic: m, Version: v}, nil
}

// DecodeBody reads the body for h. An unknown magic returns an
// *UnknownFrameError without consuming any bytes.
func (d *Decoder) DecodeBody(h Header) (Packet, error) {
	l, ok := lookup(h)
	if !ok {
		return nil, &UnknownFrameError{Header: h}
	}

	p, err := l.decode(d, h.Version)
	if err != nil {
		var unknown *UnknownFrameError
		if errors.As(err, &unknown) {
			return nil, err
		}

		return nil, fmt.Errorf("decoding %s: %w", h, err)
	}

	return p, nil
}

// Decode reads one complete frame.
func (d *Decoder) Decode() (Packet, error) {
	h, err := d.ReadHeader()
	if err != nil {
		return nil, err
	}

	return d.DecodeBody(h)
}

// Supported reports whether h has its own registered layout. Headers
// that decode through a fallback layout are not reported.
func Supported(h Header) bool {
	_, ok := layouts[h]
	return ok
}

// bodyErr maps an end of stream inside a frame to ErrTruncated.
func bodyErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}

	return err
}

func (d *Decoder) u8() (uint8, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, bodyErr(err)
	}

	return b, nil
}

func (d *Decoder) u16() (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, bodyErr(err)
	}

	return binary.BigEndian.Uint16(buf[:]), nil
}

func (d *Decoder) u32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, bodyErr(err)
	}

	return binary.BigEndian.Uint32(buf[:]), nil
}

func (d *Decoder) exact(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, bodyErr(err)
	}

	return buf, nil
}

// blob reads a u32-prefixed byte field.
func (d *Decoder) blob() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}

	if uint64(n) > uint64(d.limits.MaxFieldBytes) {
		return nil, fmt.Errorf("%w: %d bytes", ErrFieldTooLarge, n)
	}

	return d.exact(int(n))
}

// str reads a u32-prefixed UTF-8 string.
func (d *Decoder) str() (string, error) {
	b, err := d.blob()
	return string(b), err
}

// shortStr reads a u16-prefixed UTF-8 string.
func (d *Decoder) shortStr() (string, error) {
	n, err := d.u16()
	if err != nil {
		return "", err
	}

	b, err := d.exact(int(n))

	return string(b), err
}

// line reads up to and excluding the next newline. A trailing carriage
// return is dropped. The stream ending after a partial line yields that
// line; ending before any byte is a truncation.
func (d *Decoder) line() (string, error) {
	var sb strings.Builder

	for {
		chunk, err := d.r.ReadSlice('\n')
		if sb.Len()+len(chunk) > d.limits.MaxFieldBytes {
			return "", fmt.Errorf("%w: line exceeds %d bytes", ErrFieldTooLarge, d.limits.MaxFieldBytes)
		}

		sb.Write(chunk)

		if err == nil {
			break
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if errors.Is(err, io.EOF) && sb.Len() > 0 {
			return sb.String(), nil
		}

		return "", bodyErr(err)
	}

	s := strings.TrimSuffix(sb.String(), "\n")

	return strings.TrimSuffix(s, "\r"), nil
}

func (d *Decoder) strs(dst ...*string) error {
	for _, p := range dst {
		s, err := d.str()
		if err != nil {
			return err
		}

		*p = s
	}

	return nil
}

func (d *Decoder) idList() ([]string, error) {
	count, err := d.u16()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, count)

	for range int(count) {
		id, err := d.shortStr()
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func decodeTextLines(d *Decoder, version uint8) (Packet, error) {
	title, err := d.line()
	if err != nil {
		return nil, err
	}

	body, err := d.line()
	if err != nil {
		return nil, err
	}

	return &TextPacket{Version: version, Title: title, Body: body}, nil
}

func decodeTextPlain(d *Decoder, version uint8) (Packet, error) {
	p := &TextPacket{Version: version}
	if err := d.strs(&p.Title, &p.Body); err != nil {
		return nil, err
	}

	return p, nil
}

func decodeTextCategorized(d *Decoder, version uint8) (Packet, error) {
	p := &TextPacket{Version: version}
	if err := d.strs(&p.Category, &p.SubCategory, &p.Title, &p.Body); err != nil {
		return nil, err
	}

	return p, nil
}

func decodeTextWithID(d *Decoder, version uint8) (Packet, error) {
	id, err := d.shortStr()
	if err != nil {
		return nil, err
	}

	p := &TextPacket{Version: version, ID: id}
	if err := d.strs(&p.Category, &p.SubCategory, &p.Title, &p.Body); err != nil {
		return nil, err
	}

	return p, nil
}

func decodeControl(d *Decoder, _ uint8) (Packet, error) {
	b, err := d.u8()
	if err != nil {
		return nil, err
	}

	op := Opcode(b)
	p := &ControlPacket{Op: op}

	switch op {
	case OpReadFromPhone, OpReadToPhone, OpUnreadToPhone:
		ids, err := d.idList()
		if err != nil {
			return nil, err
		}

		p.IDs = ids
	case OpDeviceReset, OpSyncEnd:
	default:
		return nil, &UnknownFrameError{
			Header: Header{Magic: MagicText, Version: ControlVersion},
			Opcode: &op,
		}
	}

	return p, nil
}

func decodeImagePlain(d *Decoder, version uint8) (Packet, error) {
	img, err := d.blob()
	if err != nil {
		return nil, err
	}

	p := &ImagePacket{Version: version, Image: img}
	if err := d.strs(&p.Title, &p.Body); err != nil {
		return nil, err
	}

	return p, nil
}

func decodeImageCategorized(d *Decoder, version uint8) (Packet, error) {
	img, err := d.blob()
	if err != nil {
		return nil, err
	}

	p := &ImagePacket{Version: version, Image: img}
	if err := d.strs(&p.Category, &p.SubCategory, &p.Title, &p.Body); err != nil {
		return nil, err
	}

	return p, nil
}

func (d *Decoder) icons(p *ImagePacket) error {
	for _, dst := range []*[]byte{&p.CategoryIcon, &p.SubCategoryIcon, &p.MessageIcon} {
		b, err := d.blob()
		if err != nil {
			return err
		}

		*dst = b
	}

	return d.strs(&p.Category, &p.SubCategory, &p.Title, &p.Body)
}

func decodeImageIcons(d *Decoder, version uint8) (Packet, error) {
	p := &ImagePacket{Version: version}
	if err := d.icons(p); err != nil {
		return nil, err
	}

	return p, nil
}

func decodeImageIconsWithID(d *Decoder, version uint8) (Packet, error) {
	id, err := d.shortStr()
	if err != nil {
		return nil, err
	}

	p := &ImagePacket{Version: version, ID: id}
	if err := d.icons(p); err != nil {
		return nil, err
	}

	return p, nil
}
