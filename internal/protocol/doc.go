// Package protocol implements the notification framing used between the
// relay and its desktop peer.
//
// Every frame starts with a 3-byte magic ("TXT" or "IMG") and a 1-byte
// version. The body layout depends on the (magic, version) pair and is
// self-describing: strings and images carry big-endian u32 length
// prefixes, ids and id lists carry u16 prefixes. TXT version 0 is the
// exception and carries two newline-terminated lines.
//
// TXT version 4 frames are control frames. Their body is a 1-byte opcode
// followed by an optional id list.
//
// Decoding is table driven: each supported (magic, version) pair maps to
// one decode function and one encode function. Unlisted IMG versions use
// the v0 layout and unlisted TXT versions the v2 layout. An unknown magic
// or control opcode surfaces as an *UnknownFrameError so the caller can
// skip it and continue at the next header.
package protocol
