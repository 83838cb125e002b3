// Package wire frames persisted snapshots. Payloads are opaque codec output;
// the frame carries what the engine needs to rebuild a record around them.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version    byte = 1
	kindSingle byte = 1
	kindList   byte = 2
	kindKeyed  byte = 3

	flagHasMore byte = 1 << 0
)

var (
	ErrCorrupt    = errors.New("asyncache: corrupt snapshot")
	ErrKeyTooLong = errors.New("asyncache: snapshot key longer than 65535 bytes")
	magic4        = [...]byte{'A', 'R', 'E', 'S'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

func header(buf *bytes.Buffer, kind byte) {
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)
}

func checkHeader(b []byte, kind byte, min int) bool {
	return len(b) >= min && hasMagic(b) && b[4] == version && b[5] == kind
}

// reader walks a frame with bounds checks; the first failure sticks.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.b)-r.off {
		r.err = ErrCorrupt
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u16() int {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return int(binary.BigEndian.Uint16(b))
}

func (r *reader) u32() int {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int(binary.BigEndian.Uint32(b))
}

func (r *reader) i64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.b) {
		return ErrCorrupt // trailing bytes
	}
	return nil
}

func putI64(buf *bytes.Buffer, v int64) {
	var u8 [8]byte
	binary.BigEndian.PutUint64(u8[:], uint64(v))
	buf.Write(u8[:])
}

func putU32(buf *bytes.Buffer, v int) {
	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(v))
	buf.Write(u4[:])
}

// Single: magic(4) | ver(1) | kind(1=single) | at(i64 be, unix nanos) | vlen(u32 be) | payload(vlen)
func EncodeSingle(at int64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + len(payload))
	header(&buf, kindSingle)
	putI64(&buf, at)
	putU32(&buf, len(payload))
	buf.Write(payload)
	return buf.Bytes()
}

func DecodeSingle(b []byte) (at int64, payload []byte, err error) {
	if !checkHeader(b, kindSingle, 4+1+1+8+4) {
		return 0, nil, ErrCorrupt
	}
	r := reader{b: b, off: 6}
	at = r.i64()
	payload = r.take(r.u32())
	if err := r.done(); err != nil {
		return 0, nil, err
	}
	return at, payload, nil
}

// List:
//
//	magic(4) | ver(1) | kind(2=list) | flags(1) | at(i64 be) | n(u32 be)
//	vlen(u32 be) | payload(vlen) * n
func EncodeList(at int64, hasMore bool, payloads [][]byte) []byte {
	total := 4 + 1 + 1 + 1 + 8 + 4
	for _, p := range payloads {
		total += 4 + len(p)
	}
	var buf bytes.Buffer
	buf.Grow(total)
	header(&buf, kindList)

	var flags byte
	if hasMore {
		flags |= flagHasMore
	}
	buf.WriteByte(flags)
	putI64(&buf, at)
	putU32(&buf, len(payloads))
	for _, p := range payloads {
		putU32(&buf, len(p))
		buf.Write(p)
	}
	return buf.Bytes()
}

func DecodeList(b []byte) (at int64, hasMore bool, payloads [][]byte, err error) {
	if !checkHeader(b, kindList, 4+1+1+1+8+4) {
		return 0, false, nil, ErrCorrupt
	}
	r := reader{b: b, off: 6}
	flags := r.take(1)
	at = r.i64()
	n := r.u32()
	if r.err == nil && n > len(b) { // each entry takes at least 4 bytes
		return 0, false, nil, ErrCorrupt
	}
	payloads = make([][]byte, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		payloads = append(payloads, r.take(r.u32()))
	}
	if err := r.done(); err != nil {
		return 0, false, nil, err
	}
	return at, flags[0]&flagHasMore != 0, payloads, nil
}

// Entry is one keyed item in a keyed frame.
type Entry struct {
	Key     string
	At      int64
	Payload []byte
}

// Keyed:
//
//	magic(4) | ver(1) | kind(3=keyed) | n(u32 be)
//	keyLen(u16 be) | key(keyLen) | at(i64 be) | vlen(u32 be) | payload(vlen) * n
func EncodeKeyed(entries []Entry) ([]byte, error) {
	total := 4 + 1 + 1 + 4
	for _, e := range entries {
		if len(e.Key) > 0xFFFF {
			return nil, ErrKeyTooLong
		}
		total += 2 + len(e.Key) + 8 + 4 + len(e.Payload)
	}

	var buf bytes.Buffer
	buf.Grow(total)
	header(&buf, kindKeyed)
	putU32(&buf, len(entries))

	var u2 [2]byte
	for _, e := range entries {
		binary.BigEndian.PutUint16(u2[:], uint16(len(e.Key)))
		buf.Write(u2[:])
		buf.WriteString(e.Key)
		putI64(&buf, e.At)
		putU32(&buf, len(e.Payload))
		buf.Write(e.Payload)
	}
	return buf.Bytes(), nil
}

func DecodeKeyed(b []byte) ([]Entry, error) {
	if !checkHeader(b, kindKeyed, 4+1+1+4) {
		return nil, ErrCorrupt
	}
	r := reader{b: b, off: 6}
	n := r.u32()
	if n > len(b) {
		return nil, ErrCorrupt
	}
	entries := make([]Entry, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		key := r.take(r.u16())
		at := r.i64()
		payload := r.take(r.u32())
		entries = append(entries, Entry{Key: string(key), At: at, Payload: payload})
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return entries, nil
}
