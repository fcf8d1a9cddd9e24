package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

type encodeFunc func(b *bytes.Buffer, p Packet) error

type layout struct {
	decode decodeFunc
	encode encodeFunc
}

// layouts is the single dispatch table for every supported frame.
// TXT v3 shares the v2 layout and IMG v1 the v0 layout.
var layouts = map[Header]layout{
	{MagicText, 0}:              {decodeTextLines, encodeTextLines},
	{MagicText, 1}:              {decodeTextPlain, encodeTextPlain},
	{MagicText, 2}:              {decodeTextCategorized, encodeTextCategorized},
	{MagicText, 3}:              {decodeTextCategorized, encodeTextCategorized},
	{MagicText, ControlVersion}: {decodeControl, encodeControl},
	{MagicText, 5}:              {decodeTextWithID, encodeTextWithID},
	{MagicImage, 0}:             {decodeImagePlain, encodeImagePlain},
	{MagicImage, 1}:             {decodeImagePlain, encodeImagePlain},
	{MagicImage, 2}:             {decodeImageCategorized, encodeImageCategorized},
	{MagicImage, 3}:             {decodeImageIcons, encodeImageIcons},
	{MagicImage, 5}:             {decodeImageIconsWithID, encodeImageIconsWithID},
}

// lookup returns the layout for h. Versions missing from the table fall
// back by magic: IMG to the legacy v0 layout and TXT to the categorized
// layout, since every TXT version below 2 is listed.
func lookup(h Header) (layout, bool) {
	if l, ok := layouts[h]; ok {
		return l, true
	}

	switch h.Magic {
	case MagicImage:
		return layouts[Header{MagicImage, 0}], true
	case MagicText:
		return layouts[Header{MagicText, 2}], true
	}

	return layout{}, false
}

// Marshal returns the complete wire bytes for p.
func Marshal(p Packet) ([]byte, error) {
	h := p.Header()

	l, ok := lookup(h)
	if !ok {
		return nil, &UnknownFrameError{Header: h}
	}

	var b bytes.Buffer

	b.Write(h.Magic[:])
	b.WriteByte(h.Version)

	if err := l.encode(&b, p); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", h, err)
	}

	return b.Bytes(), nil
}

// Encode writes p to w with a single Write call.
func Encode(w io.Writer, p Packet) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing %s frame: %w", p.Header(), err)
	}

	return nil
}

func putU16(b *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	b.Write(buf[:])
}

func putU32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func putBlob(b *bytes.Buffer, data []byte) error {
	if uint64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrFieldTooLarge, len(data))
	}

	putU32(b, uint32(len(data)))
	b.Write(data)

	return nil
}

func putStrs(b *bytes.Buffer, ss ...string) error {
	for _, s := range ss {
		if err := putBlob(b, []byte(s)); err != nil {
			return err
		}
	}

	return nil
}

func putShortStr(b *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes", ErrIDTooLong, len(s))
	}

	putU16(b, uint16(len(s)))
	b.WriteString(s)

	return nil
}

func putLine(b *bytes.Buffer, s string) error {
	if strings.ContainsRune(s, '\n') {
		return fmt.Errorf("%w: newline inside line field", ErrInvalidField)
	}

	if strings.HasSuffix(s, "\r") {
		return fmt.Errorf("%w: trailing carriage return in line field", ErrInvalidField)
	}

	b.WriteString(s)
	b.WriteByte('\n')

	return nil
}

func textPacket(p Packet) (*TextPacket, error) {
	tp, ok := p.(*TextPacket)
	if !ok {
		return nil, fmt.Errorf("%w: expected text packet, got %T", ErrInvalidField, p)
	}

	return tp, nil
}

func imagePacket(p Packet) (*ImagePacket, error) {
	ip, ok := p.(*ImagePacket)
	if !ok {
		return nil, fmt.Errorf("%w: expected image packet, got %T", ErrInvalidField, p)
	}

	return ip, nil
}

func encodeTextLines(b *bytes.Buffer, p Packet) error {
	tp, err := textPacket(p)
	if err != nil {
		return err
	}

	if err := putLine(b, tp.Title); err != nil {
		return err
	}

	return putLine(b, tp.Body)
}

func encodeTextPlain(b *bytes.Buffer, p Packet) error {
	tp, err := textPacket(p)
	if err != nil {
		return err
	}

	return putStrs(b, tp.Title, tp.Body)
}

func encodeTextCategorized(b *bytes.Buffer, p Packet) error {
	tp, err := textPacket(p)
	if err != nil {
		return err
	}

	return putStrs(b, tp.Category, tp.SubCategory, tp.Title, tp.Body)
}

func encodeTextWithID(b *bytes.Buffer, p Packet) error {
	tp, err := textPacket(p)
	if err != nil {
		return err
	}

	if err := putShortStr(b, tp.ID); err != nil {
		return err
	}

	return putStrs(b, tp.Category, tp.SubCategory, tp.Title, tp.Body)
}

func encodeControl(b *bytes.Buffer, p Packet) error {
	cp, ok := p.(*ControlPacket)
	if !ok {
		return fmt.Errorf("%w: expected control packet, got %T", ErrInvalidField, p)
	}

	switch cp.Op {
	case OpReadFromPhone, OpReadToPhone, OpUnreadToPhone, OpDeviceReset, OpSyncEnd:
	default:
		op := cp.Op
		return &UnknownFrameError{Header: cp.Header(), Opcode: &op}
	}

	b.WriteByte(byte(cp.Op))

	if !cp.Op.hasIDs() {
		return nil
	}

	if len(cp.IDs) > MaxListLen {
		return fmt.Errorf("%w: %d ids", ErrListTooLong, len(cp.IDs))
	}

	putU16(b, uint16(len(cp.IDs)))

	for _, id := range cp.IDs {
		if err := putShortStr(b, id); err != nil {
			return err
		}
	}

	return nil
}

func encodeImagePlain(b *bytes.Buffer, p Packet) error {
	ip, err := imagePacket(p)
	if err != nil {
		return err
	}

	if err := putBlob(b, ip.Image); err != nil {
		return err
	}

	return putStrs(b, ip.Title, ip.Body)
}

func encodeImageCategorized(b *bytes.Buffer, p Packet) error {
	ip, err := imagePacket(p)
	if err != nil {
		return err
	}

	if err := putBlob(b, ip.Image); err != nil {
		return err
	}

	return putStrs(b, ip.Category, ip.SubCategory, ip.Title, ip.Body)
}

func putIcons(b *bytes.Buffer, ip *ImagePacket) error {
	for _, icon := range [][]byte{ip.CategoryIcon, ip.SubCategoryIcon, ip.MessageIcon} {
		if err := putBlob(b, icon); err != nil {
			return err
		}
	}

	return putStrs(b, ip.Category, ip.SubCategory, ip.Title, ip.Body)
}

func encodeImageIcons(b *bytes.Buffer, p Packet) error {
	ip, err := imagePacket(p)
	if err != nil {
		return err
	}

	return putIcons(b, ip)
}

func encodeImageIconsWithID(b *bytes.Buffer, p Packet) error {
	ip, err := imagePacket(p)
	if err != nil {
		return err
	}

	if err := putShortStr(b, ip.ID); err != nil {
		return err
	}

	return putIcons(b, ip)
}
