package protocol

import (
	"fmt"
	"strconv"
)

// Magic is the 3-byte frame family marker.
type Magic [3]byte

var (
	MagicText  = Magic{'T', 'X', 'T'}
	MagicImage = Magic{'I', 'M', 'G'}
)

func (m Magic) String() string {
	for _, b := range m {
		if b < 0x20 || b > 0x7e {
			return fmt.Sprintf("%x", m[:])
		}
	}

	return string(m[:])
}

// Header identifies a frame layout.
type Header struct {
	Magic   Magic
	Version uint8
}

func (h Header) String() string {
	return h.Magic.String() + "/v" + strconv.Itoa(int(h.Version))
}

// ControlVersion is the TXT version reserved for control frames.
const ControlVersion uint8 = 4

// Opcode selects a control frame action.
type Opcode uint8

const (
	OpReadFromPhone Opcode = 0x01
	OpReadToPhone   Opcode = 0x02
	OpUnreadToPhone Opcode = 0x03
	OpDeviceReset   Opcode = 0x10
	OpSyncEnd       Opcode = 0x11
)

func (o Opcode) String() string {
	switch o {
	case OpReadFromPhone:
		return "READ_FROM_PHONE"
	case OpReadToPhone:
		return "READ_TO_PHONE"
	case OpUnreadToPhone:
		return "UNREAD_TO_PHONE"
	case OpDeviceReset:
		return "DEVICE_RESET"
	case OpSyncEnd:
		return "SYNC_END"
	default:
		return fmt.Sprintf("0x%02x", uint8(o))
	}
}

// hasIDs reports whether the opcode carries an id list.
func (o Opcode) hasIDs() bool {
	return o == OpReadFromPhone || o == OpReadToPhone || o == OpUnreadToPhone
}

// Packet is one decoded frame.
type Packet interface {
	Header() Header
}

// TextPacket is a TXT content frame. Category and SubCategory are only
// carried from version 2 on; ID only in version 5.
type TextPacket struct {
	Version     uint8
	ID          string
	Category    string
	SubCategory string
	Title       string
	Body        string
}

func (p *TextPacket) Header() Header {
	return Header{Magic: MagicText, Version: p.Version}
}

// ImagePacket is an IMG content frame. Versions 0-2 carry a single
// Image; versions 3 and 5 carry the three icon roles instead.
type ImagePacket struct {
	Version         uint8
	ID              string
	Category        string
	SubCategory     string
	Title           string
	Body            string
	Image           []byte
	CategoryIcon    []byte
	SubCategoryIcon []byte
	MessageIcon     []byte
}

func (p *ImagePacket) Header() Header {
	return Header{Magic: MagicImage, Version: p.Version}
}

// MultiIcon reports whether the packet uses the three-icon layout.
func (p *ImagePacket) MultiIcon() bool {
	return p.Version == 3 || p.Version == 5
}

// Legacy reports whether the packet uses the single-image layout that
// carries no category.
func (p *ImagePacket) Legacy() bool {
	return p.Version != 2 && !p.MultiIcon()
}

// ControlPacket is a TXT v4 frame.
type ControlPacket struct {
	Op  Opcode
	IDs []string
}

func (p *ControlPacket) Header() Header {
	return Header{Magic: MagicText, Version: ControlVersion}
}

// Limits bounds decoder allocations.
type Limits struct {
	MaxFieldBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxFieldBytes: 16 * 1024 * 1024}
}

// MaxListLen is the largest id count a single control frame can carry.
const MaxListLen = 0xFFFF

// SplitIDs chunks ids into slices no longer than MaxListLen.
func SplitIDs(ids []string) [][]string {
	if len(ids) == 0 {
		return nil
	}

	var chunks [][]string
	for len(ids) > MaxListLen {
		chunks = append(chunks, ids[:MaxListLen])
		ids = ids[MaxListLen:]
	}

	return append(chunks, ids)
}
