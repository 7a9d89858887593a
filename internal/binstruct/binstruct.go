// Package binstruct is a small reflective binary-struct codec shared by
// every OnDiskLayout definition in this module (Btrfs nodes/items, Ext
// superblocks/inodes/dirents, ISO9660 volume/directory records). Fields
// are tagged with their byte offset and size so that a struct's layout
// doubles as a specification of the on-disk format and a mismatch
// between the Go field order/size and the tag is a build-time-detected
// bug rather than a silent corruption.
//
// Adapted from the teacher's lib/binstruct, merged into one file and
// extended with BothEndian fixed-width integers: ISO9660 stores many
// integers twice, once little-endian and once big-endian, back to back
// (spec.md §6 "ISO9660" — e.g. a directory record's extent location and
// data length), which the teacher's Btrfs/Ext-only codec never needed.
package binstruct

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// --- errors ----------------------------------------------------------------

type InvalidTypeError struct {
	Type reflect.Type
	Err  error
}

func (e *InvalidTypeError) Error() string { return fmt.Sprintf("%v: %v", e.Type, e.Err) }
func (e *InvalidTypeError) Unwrap() error { return e.Err }

type codecError struct {
	Type   reflect.Type
	Method string
	Err    error
}

func (e *codecError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("%v: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("(%v).%v: %v", e.Type, e.Method, e.Err)
}
func (e *codecError) Unwrap() error { return e.Err }

func needNBytes(dat []byte, n int) error {
	if len(dat) < n {
		return fmt.Errorf("need at least %d bytes, only have %d", n, len(dat))
	}
	return nil
}

// --- interfaces --------------------------------------------------------

type Marshaler = encoding.BinaryMarshaler

type Unmarshaler interface {
	UnmarshalBinary([]byte) (int, error)
}

type StaticSizer interface {
	BinaryStaticSize() int
}

// --- fixed-width integer helper types -----------------------------------

type (
	U8    uint8
	I8    int8
	U16le uint16
	U32le uint32
	U64le uint64
	I16le int16
	I32le int32
	I64le int64
	U16be uint16
	U32be uint32
	U64be uint64
	I16be int16
	I32be int32
	I64be int64
)

func (U8) BinaryStaticSize() int            { return 1 }
func (x U8) MarshalBinary() ([]byte, error) { return []byte{byte(x)}, nil }
func (x *U8) UnmarshalBinary(dat []byte) (int, error) {
	if err := needNBytes(dat, 1); err != nil {
		return 0, err
	}
	*x = U8(dat[0])
	return 1, nil
}

func (I8) BinaryStaticSize() int            { return 1 }
func (x I8) MarshalBinary() ([]byte, error) { return []byte{byte(x)}, nil }
func (x *I8) UnmarshalBinary(dat []byte) (int, error) {
	if err := needNBytes(dat, 1); err != nil {
		return 0, err
	}
	*x = I8(int8(dat[0]))
	return 1, nil
}

func genLE16[T ~uint16 | ~int16]() (func(T) ([]byte, error), func(*T, []byte) (int, error)) {
	return func(x T) ([]byte, error) {
			var buf [2]byte
			binary.LittleEndian.PutUint16(buf[:], uint16(x))
			return buf[:], nil
		}, func(x *T, dat []byte) (int, error) {
			if err := needNBytes(dat, 2); err != nil {
				return 0, err
			}
			*x = T(binary.LittleEndian.Uint16(dat))
			return 2, nil
		}
}

func (U16le) BinaryStaticSize() int { return 2 }
func (x U16le) MarshalBinary() ([]byte, error) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(x))
	return buf[:], nil
}
func (x *U16le) UnmarshalBinary(dat []byte) (int, error) {
	if err := needNBytes(dat, 2); err != nil {
		return 0, err
	}
	*x = U16le(binary.LittleEndian.Uint16(dat))
	return 2, nil
}

func (I16le) BinaryStaticSize() int { return 2 }
func (x I16le) MarshalBinary() ([]byte, error) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(x))
	return buf[:], nil
}
func (x *I16le) UnmarshalBinary(dat []byte) (int, error) {
	if err := needNBytes(dat, 2); err != nil {
		return 0, err
	}
	*x = I16le(int16(binary.LittleEndian.Uint16(dat)))
	return 2, nil
}

func (U32le) BinaryStaticSize() int { return 4 }
func (x U32le) MarshalBinary() ([]byte, error) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(x))
	return buf[:], nil
}
func (x *U32le) UnmarshalBinary(dat []byte) (int, error) {
	if err := needNBytes(dat, 4); err != nil {
		return 0, err
	}
	*x = U32le(binary.LittleEndian.Uint32(dat))
	return 4, nil
}

func (I32le) BinaryStaticSize() int { return 4 }
func (x I32le) MarshalBinary() ([]byte, error) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(x))
	return buf[:], nil
}
func (x *I32le) UnmarshalBinary(dat []byte) (int, error) {
	if err := needNBytes(dat, 4); err != nil {
		return 0, err
	}
	*x = I32le(int32(binary.LittleEndian.Uint32(dat)))
	return 4, nil
}

func (U64le) BinaryStaticSize() int { return 8 }
func (x U64le) MarshalBinary() ([]byte, error) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(x))
	return buf[:], nil
}
func (x *U64le) UnmarshalBinary(dat []byte) (int, error) {
	if err := needNBytes(dat, 8); err != nil {
		return 0, err
	}
	*x = U64le(binary.LittleEndian.Uint64(dat))
	return 8, nil
}

func (I64le) BinaryStaticSize() int { return 8 }
func (x I64le) MarshalBinary() ([]byte, error) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(x))
	return buf[:], nil
}
func (x *I64le) UnmarshalBinary(dat []byte) (int, error) {
	if err := needNBytes(dat, 8); err != nil {
		return 0, err
	}
	*x = I64le(int64(binary.LittleEndian.Uint64(dat)))
	return 8, nil
}

func (U16be) BinaryStaticSize() int { return 2 }
func (x U16be) MarshalBinary() ([]byte, error) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(x))
	return buf[:], nil
}
func (x *U16be) UnmarshalBinary(dat []byte) (int, error) {
	if err := needNBytes(dat, 2); err != nil {
		return 0, err
	}
	*x = U16be(binary.BigEndian.Uint16(dat))
	return 2, nil
}

func (U32be) BinaryStaticSize() int { return 4 }
func (x U32be) MarshalBinary() ([]byte, error) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(x))
	return buf[:], nil
}
func (x *U32be) UnmarshalBinary(dat []byte) (int, error) {
	if err := needNBytes(dat, 4); err != nil {
		return 0, err
	}
	*x = U32be(binary.BigEndian.Uint32(dat))
	return 4, nil
}

func (U64be) BinaryStaticSize() int { return 8 }
func (x U64be) MarshalBinary() ([]byte, error) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(x))
	return buf[:], nil
}
func (x *U64be) UnmarshalBinary(dat []byte) (int, error) {
	if err := needNBytes(dat, 8); err != nil {
		return 0, err
	}
	*x = U64be(binary.BigEndian.Uint64(dat))
	return 8, nil
}

// BothEndian16/32 model ISO9660's "both-byte-order" integers: the same
// value stored twice, LE then BE, back to back (ECMA-119 §7.2/7.3). The
// accessor is just .Val; Marshal always regenerates both halves from it,
// and Unmarshal cross-checks them and returns BadData on mismatch via the
// caller (callers in ondisk/iso9660 do the cross-check explicitly since
// binstruct itself has no fserrors dependency).
type BothEndian16 struct {
	Val uint16
}

func (BothEndian16) BinaryStaticSize() int { return 4 }
func (x BothEndian16) MarshalBinary() ([]byte, error) {
	var buf [4]byte
	binary.LittleEndian.PutUint16(buf[0:2], x.Val)
	binary.BigEndian.PutUint16(buf[2:4], x.Val)
	return buf[:], nil
}
func (x *BothEndian16) UnmarshalBinary(dat []byte) (int, error) {
	if err := needNBytes(dat, 4); err != nil {
		return 0, err
	}
	x.Val = binary.LittleEndian.Uint16(dat[0:2])
	return 4, nil
}

type BothEndian32 struct {
	Val uint32
}

func (BothEndian32) BinaryStaticSize() int { return 8 }
func (x BothEndian32) MarshalBinary() ([]byte, error) {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], x.Val)
	binary.BigEndian.PutUint32(buf[4:8], x.Val)
	return buf[:], nil
}
func (x *BothEndian32) UnmarshalBinary(dat []byte) (int, error) {
	if err := needNBytes(dat, 8); err != nil {
		return 0, err
	}
	x.Val = binary.LittleEndian.Uint32(dat[0:4])
	return 8, nil
}

var intKind2Type = map[reflect.Kind]reflect.Type{
	reflect.Uint8:  reflect.TypeOf(U8(0)),
	reflect.Int8:   reflect.TypeOf(I8(0)),
	reflect.Uint16: reflect.TypeOf(U16le(0)),
	reflect.Int16:  reflect.TypeOf(I16le(0)),
	reflect.Uint32: reflect.TypeOf(U32le(0)),
	reflect.Int32:  reflect.TypeOf(I32le(0)),
	reflect.Uint64: reflect.TypeOf(U64le(0)),
	reflect.Int64:  reflect.TypeOf(I64le(0)),
}

// --- End marker (used to assert a struct's total size) ------------------

type End struct{}

var endType = reflect.TypeOf(End{})

// --- struct tag parsing --------------------------------------------------

type tag struct {
	skip bool
	off  int
	siz  int
}

func parseStructTag(str string) (tag, error) {
	var ret tag
	for _, part := range strings.Split(str, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "-" {
			return tag{skip: true}, nil
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return tag{}, fmt.Errorf("option is not a key=value pair: %q", part)
		}
		switch kv[0] {
		case "off":
			v, err := strconv.ParseInt(kv[1], 0, 0)
			if err != nil {
				return tag{}, err
			}
			ret.off = int(v)
		case "siz":
			v, err := strconv.ParseInt(kv[1], 0, 0)
			if err != nil {
				return tag{}, err
			}
			ret.siz = int(v)
		default:
			return tag{}, fmt.Errorf("unrecognized option %q", kv[0])
		}
	}
	return ret, nil
}

type structField struct {
	name string
	tag
}

type structHandler struct {
	name   string
	Size   int
	fields []structField
}

func (sh structHandler) Unmarshal(dat []byte, dst reflect.Value) (int, error) {
	if err := needNBytes(dat, sh.Size); err != nil {
		return 0, fmt.Errorf("struct %q %w", sh.name, err)
	}
	var n int
	for i, field := range sh.fields {
		if field.skip {
			continue
		}
		got, err := Unmarshal(dat[n:], dst.Field(i).Addr().Interface())
		if err != nil {
			if got >= 0 {
				n += got
			}
			return n, fmt.Errorf("struct %q field %d %q: %w", sh.name, i, field.name, err)
		}
		if got != field.siz {
			return n, fmt.Errorf("struct %q field %d %q: consumed %d bytes, want %d",
				sh.name, i, field.name, got, field.siz)
		}
		n += got
	}
	return n, nil
}

func (sh structHandler) Marshal(val reflect.Value) ([]byte, error) {
	ret := make([]byte, 0, sh.Size)
	for i, field := range sh.fields {
		if field.skip {
			continue
		}
		bs, err := Marshal(val.Field(i).Interface())
		ret = append(ret, bs...)
		if err != nil {
			return ret, fmt.Errorf("struct %q field %d %q: %w", sh.name, i, field.name, err)
		}
	}
	return ret, nil
}

func genStructHandler(structType reflect.Type) (structHandler, error) {
	var ret structHandler
	ret.name = structType.String()

	var curOffset, endOffset int
	for i := 0; i < structType.NumField(); i++ {
		f := structType.Field(i)
		if f.Anonymous && f.Type != endType {
			return ret, fmt.Errorf("struct %q field %d %q: embedded fields are not supported", ret.name, i, f.Name)
		}
		ftag, err := parseStructTag(f.Tag.Get("bin"))
		if err != nil {
			return ret, fmt.Errorf("struct %q field %d %q: %w", ret.name, i, f.Name, err)
		}
		if ftag.skip {
			ret.fields = append(ret.fields, structField{tag: ftag, name: f.Name})
			continue
		}
		if ftag.off != curOffset {
			return ret, fmt.Errorf("struct %q field %d %q: tag says off=%#x but computed offset is %#x",
				ret.name, i, f.Name, ftag.off, curOffset)
		}
		if f.Type == endType {
			endOffset = curOffset
		}
		size, err := staticSize(f.Type)
		if err != nil {
			return ret, fmt.Errorf("struct %q field %d %q: %w", ret.name, i, f.Name, err)
		}
		if ftag.siz != size {
			return ret, fmt.Errorf("struct %q field %d %q: tag says siz=%#x but StaticSize=%#x",
				ret.name, i, f.Name, ftag.siz, size)
		}
		curOffset += ftag.siz
		ret.fields = append(ret.fields, structField{name: f.Name, tag: ftag})
	}
	ret.Size = curOffset
	if ret.Size != endOffset {
		return ret, fmt.Errorf("struct %q: computed size %d does not match binstruct.End offset %d", ret.name, ret.Size, endOffset)
	}
	return ret, nil
}

var structCache = make(map[reflect.Type]structHandler)

func getStructHandler(typ reflect.Type) structHandler {
	if h, ok := structCache[typ]; ok {
		return h
	}
	h, err := genStructHandler(typ)
	if err != nil {
		panic(&InvalidTypeError{Type: typ, Err: err})
	}
	structCache[typ] = h
	return h
}

// --- top-level Marshal/Unmarshal/StaticSize ------------------------------

func Marshal(obj any) ([]byte, error) {
	if mar, ok := obj.(Marshaler); ok {
		dat, err := mar.MarshalBinary()
		if err != nil {
			err = &codecError{Type: reflect.TypeOf(obj), Method: "MarshalBinary", Err: err}
		}
		return dat, err
	}
	val := reflect.ValueOf(obj)
	switch val.Kind() {
	case reflect.Uint8, reflect.Int8, reflect.Uint16, reflect.Int16, reflect.Uint32, reflect.Int32, reflect.Uint64, reflect.Int64:
		typ := intKind2Type[val.Kind()]
		return val.Convert(typ).Interface().(Marshaler).MarshalBinary()
	case reflect.Ptr:
		return Marshal(val.Elem().Interface())
	case reflect.Array:
		var ret []byte
		for i := 0; i < val.Len(); i++ {
			bs, err := Marshal(val.Index(i).Interface())
			ret = append(ret, bs...)
			if err != nil {
				return ret, err
			}
		}
		return ret, nil
	case reflect.Struct:
		return getStructHandler(val.Type()).Marshal(val)
	default:
		panic(&InvalidTypeError{Type: val.Type(), Err: fmt.Errorf("kind=%v is not marshalable", val.Kind())})
	}
}

func Unmarshal(dat []byte, dstPtr any) (int, error) {
	if unmar, ok := dstPtr.(Unmarshaler); ok {
		n, err := unmar.UnmarshalBinary(dat)
		if err != nil {
			err = &codecError{Type: reflect.TypeOf(dstPtr), Method: "UnmarshalBinary", Err: err}
		}
		return n, err
	}
	rv := reflect.ValueOf(dstPtr)
	if rv.Kind() != reflect.Ptr {
		panic(&InvalidTypeError{Type: rv.Type(), Err: errors.New("not a pointer")})
	}
	dst := rv.Elem()
	switch dst.Kind() {
	case reflect.Uint8, reflect.Int8, reflect.Uint16, reflect.Int16, reflect.Uint32, reflect.Int32, reflect.Uint64, reflect.Int64:
		typ := intKind2Type[dst.Kind()]
		tmp := reflect.New(typ)
		n, err := Unmarshal(dat, tmp.Interface())
		dst.Set(tmp.Elem().Convert(dst.Type()))
		return n, err
	case reflect.Ptr:
		elem := reflect.New(dst.Type().Elem())
		n, err := Unmarshal(dat, elem.Interface())
		dst.Set(elem.Convert(dst.Type()))
		return n, err
	case reflect.Array:
		var n int
		for i := 0; i < dst.Len(); i++ {
			got, err := Unmarshal(dat[n:], dst.Index(i).Addr().Interface())
			n += got
			if err != nil {
				return n, err
			}
		}
		return n, nil
	case reflect.Struct:
		return getStructHandler(dst.Type()).Unmarshal(dat, dst)
	default:
		panic(&InvalidTypeError{Type: rv.Type(), Err: fmt.Errorf("kind=%v is not unmarshalable", dst.Kind())})
	}
}

var (
	staticSizerType = reflect.TypeOf((*StaticSizer)(nil)).Elem()
	marshalerType   = reflect.TypeOf((*Marshaler)(nil)).Elem()
	unmarshalerType = reflect.TypeOf((*Unmarshaler)(nil)).Elem()
)

func staticSize(typ reflect.Type) (int, error) {
	if typ.Implements(staticSizerType) {
		return reflect.New(typ).Elem().Interface().(StaticSizer).BinaryStaticSize(), nil
	}
	if typ.Implements(marshalerType) || typ.Implements(unmarshalerType) {
		return 0, &InvalidTypeError{Type: typ, Err: errors.New("implements Marshaler/Unmarshaler but not StaticSizer")}
	}
	switch typ.Kind() {
	case reflect.Uint8, reflect.Int8:
		return 1, nil
	case reflect.Uint16, reflect.Int16:
		return 2, nil
	case reflect.Uint32, reflect.Int32:
		return 4, nil
	case reflect.Uint64, reflect.Int64:
		return 8, nil
	case reflect.Ptr:
		return staticSize(typ.Elem())
	case reflect.Array:
		elemSize, err := staticSize(typ.Elem())
		if err != nil {
			return 0, err
		}
		return elemSize * typ.Len(), nil
	case reflect.Struct:
		return getStructHandler(typ).Size, nil
	default:
		return 0, &InvalidTypeError{Type: typ, Err: fmt.Errorf("kind=%v is not statically sized", typ.Kind())}
	}
}

// StaticSize returns the fixed on-disk size of obj's type, panicking if
// the type isn't statically sized (used at package-init time by every
// ondisk layout package to precompute header/entry sizes, mirroring the
// teacher's btrfstree package-level nodeHeaderSize/keyPointerSize vars).
func StaticSize(obj any) int {
	sz, err := staticSize(reflect.TypeOf(obj))
	if err != nil {
		panic(err)
	}
	return sz
}
