// Package tlv encodes records as a flat sequence of fields. Each field is a
// 2-byte id, a 1-byte type, a 4-byte big-endian length and the value.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const HeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrMissingField     = errors.New("tlv: missing field")
	ErrTypeMismatch     = errors.New("tlv: field type mismatch")
)

const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
)

type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

// Record is an ordered field list. Unknown ids survive a decode/encode pass;
// lookups return the first field with a matching id.
type Record []Field

func (r Record) Get(id uint16) (Field, bool) {
	for _, f := range r {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func (r *Record) Put(f Field) {
	for i := range *r {
		if (*r)[i].ID == f.ID {
			(*r)[i] = f
			return
		}
	}
	*r = append(*r, f)
}

func (r *Record) PutString(id uint16, s string) {
	r.Put(Field{ID: id, Type: TypeString, Value: []byte(s)})
}

func (r *Record) PutBytes(id uint16, b []byte) {
	r.Put(Field{ID: id, Type: TypeBytes, Value: append([]byte(nil), b...)})
}

func (r *Record) PutU64(id uint16, v uint64) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	r.Put(Field{ID: id, Type: TypeU64, Value: buf})
}

func (r *Record) PutBool(id uint16, v bool) {
	b := byte(0)
	if v {
		b = 1
	}
	r.Put(Field{ID: id, Type: TypeBool, Value: []byte{b}})
}

func (r Record) lookup(id uint16, typ uint8) (Field, error) {
	f, ok := r.Get(id)
	if !ok {
		return Field{}, fmt.Errorf("%w: %d", ErrMissingField, id)
	}
	if f.Type != typ {
		return Field{}, fmt.Errorf("%w: field %d got %d want %d", ErrTypeMismatch, id, f.Type, typ)
	}
	return f, nil
}

func (r Record) Text(id uint16) (string, error) {
	f, err := r.lookup(id, TypeString)
	if err != nil {
		return "", err
	}
	return string(f.Value), nil
}

func (r Record) Bytes(id uint16) ([]byte, error) {
	f, err := r.lookup(id, TypeBytes)
	if err != nil {
		return nil, err
	}
	return f.Value, nil
}

// U64 accepts any unsigned integer width.
func (r Record) U64(id uint16) (uint64, error) {
	f, ok := r.Get(id)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrMissingField, id)
	}
	want := map[uint8]int{TypeU8: 1, TypeU16: 2, TypeU32: 4, TypeU64: 8}[f.Type]
	if want == 0 {
		return 0, fmt.Errorf("%w: field %d got %d want unsigned", ErrTypeMismatch, id, f.Type)
	}
	if len(f.Value) != want {
		return 0, fmt.Errorf("tlv: field %d has %d bytes for a %d-byte integer", id, len(f.Value), want)
	}
	var v uint64
	for _, b := range f.Value {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

func (r Record) Bool(id uint16) (bool, error) {
	f, err := r.lookup(id, TypeBool)
	if err != nil {
		return false, err
	}
	if len(f.Value) != 1 {
		return false, fmt.Errorf("tlv: field %d has %d bytes for a bool", id, len(f.Value))
	}
	return f.Value[0] != 0, nil
}

// Marshal encodes every field in order.
func (r Record) Marshal() ([]byte, error) {
	size := 0
	for _, f := range r {
		if uint64(len(f.Value)) > math.MaxUint32 {
			return nil, fmt.Errorf("tlv: field %d value too large", f.ID)
		}
		size += HeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	for _, f := range r {
		out = AppendField(out, f)
	}
	return out, nil
}

func AppendField(dst []byte, f Field) []byte {
	var head [HeaderLen]byte
	binary.BigEndian.PutUint16(head[0:2], f.ID)
	head[2] = f.Type
	binary.BigEndian.PutUint32(head[3:7], uint32(len(f.Value)))
	dst = append(dst, head[:]...)
	return append(dst, f.Value...)
}

// Unmarshal decodes payload into a record. Values are copied out of payload.
func Unmarshal(payload []byte) (Record, error) {
	var rec Record
	for i := 0; i < len(payload); {
		if len(payload)-i < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typ := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += HeaderLen
		if uint64(len(payload)-i) < uint64(l) {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		rec = append(rec, Field{ID: id, Type: typ, Value: val})
	}
	return rec, nil
}
