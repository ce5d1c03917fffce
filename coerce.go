package sqlmap

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	uuidType = reflect.TypeOf(uuid.UUID{})
	ulidType = reflect.TypeOf(ulid.ULID{})
	bytesT   = reflect.TypeOf([]byte(nil))
)

// timeLayouts are tried in order when a text column feeds a time.Time.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

var errNull = errors.New("NULL into non-nullable type")

// coerce converts a raw driver value into a value assignable to a field of
// type to. Only lossless conversions succeed: numbers are range checked and
// NULL is accepted by pointer, interface and sql.Scanner targets only.
func coerce(column string, src any, to reflect.Type, asJSON bool) (reflect.Value, error) {
	orig := src
	fail := func(err error) (reflect.Value, error) {
		return reflect.Value{}, &CoercionError{Column: column, From: srcName(orig), To: to.String(), Err: err}
	}

	// Driver-specific wrappers such as pgtype.Numeric read as their plain value.
	if v, ok := src.(driver.Valuer); ok && !reflect.TypeOf(src).AssignableTo(to) {
		plain, err := v.Value()
		if err != nil {
			return fail(err)
		}
		src = plain
	}

	if asJSON {
		if src == nil {
			if nullable(to) {
				return reflect.Zero(to), nil
			}
			return fail(errNull)
		}
		var raw []byte
		switch v := src.(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			return fail(errors.New("JSON columns must hold text"))
		}
		dst := reflect.New(to)
		if err := json.Unmarshal(raw, dst.Interface()); err != nil {
			return fail(err)
		}
		return dst.Elem(), nil
	}

	if to.Kind() == reflect.Pointer {
		if src == nil {
			return reflect.Zero(to), nil
		}
		inner, err := coerce(column, src, to.Elem(), false)
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(to.Elem())
		p.Elem().Set(inner)
		return p, nil
	}

	if src != nil && to != bytesT && reflect.TypeOf(src) == to {
		return reflect.ValueOf(src), nil
	}

	if reflect.PointerTo(to).Implements(scannerIface) && to != uuidType && to != ulidType {
		dst := reflect.New(to)
		if err := dst.Interface().(sql.Scanner).Scan(src); err != nil {
			return fail(err)
		}
		return dst.Elem(), nil
	}

	if src == nil {
		if to.Kind() == reflect.Interface {
			return reflect.Zero(to), nil
		}
		return fail(errNull)
	}

	switch to {
	case timeType:
		t, err := toTime(src)
		if err != nil {
			return fail(err)
		}
		return reflect.ValueOf(t), nil
	case uuidType:
		u, err := toUUID(src)
		if err != nil {
			return fail(err)
		}
		return reflect.ValueOf(u), nil
	case ulidType:
		u, err := toULID(src)
		if err != nil {
			return fail(err)
		}
		return reflect.ValueOf(u), nil
	}

	// Enums and other text-decoded types.
	if reflect.PointerTo(to).Implements(textUnmarshalerIface) {
		var text []byte
		switch v := src.(type) {
		case string:
			text = []byte(v)
		case []byte:
			text = v
		}
		if text != nil {
			dst := reflect.New(to)
			if err := dst.Interface().(encoding.TextUnmarshaler).UnmarshalText(text); err != nil {
				return fail(err)
			}
			return dst.Elem(), nil
		}
	}

	sv := reflect.ValueOf(src)
	if to.Kind() == reflect.Interface {
		if sv.Type().Implements(to) {
			out := reflect.New(to).Elem()
			out.Set(sv)
			return out, nil
		}
		return fail(errors.New("value does not implement target interface"))
	}

	out := reflect.New(to).Elem()
	switch to.Kind() {
	case reflect.String:
		switch v := src.(type) {
		case string:
			out.SetString(v)
		case []byte:
			out.SetString(string(v))
		default:
			return fail(errors.New("not a text value"))
		}

	case reflect.Bool:
		b, err := toBool(sv)
		if err != nil {
			return fail(err)
		}
		out.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if to == reflect.TypeOf(time.Duration(0)) {
			if d, ok := src.(time.Duration); ok {
				out.SetInt(int64(d))
				break
			}
		}
		n, err := toInt64(sv)
		if err != nil {
			return fail(err)
		}
		if out.OverflowInt(n) {
			return fail(fmt.Errorf("%d overflows %s", n, to))
		}
		out.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := toUint64(sv)
		if err != nil {
			return fail(err)
		}
		if out.OverflowUint(n) {
			return fail(fmt.Errorf("%d overflows %s", n, to))
		}
		out.SetUint(n)

	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(sv, to.Bits())
		if err != nil {
			return fail(err)
		}
		if out.OverflowFloat(f) {
			return fail(fmt.Errorf("%g overflows %s", f, to))
		}
		if to.Kind() == reflect.Float32 && !math.IsNaN(f) && float64(float32(f)) != f {
			return fail(fmt.Errorf("%g is not exact as %s", f, to))
		}
		out.SetFloat(f)

	case reflect.Slice:
		if to.Elem().Kind() != reflect.Uint8 {
			if sv.Type().AssignableTo(to) {
				out.Set(sv)
				break
			}
			return fail(errors.New("unsupported slice type"))
		}
		var b []byte
		switch v := src.(type) {
		case []byte:
			b = append([]byte(nil), v...)
		case string:
			b = []byte(v)
		default:
			return fail(errors.New("not a binary value"))
		}
		out.Set(reflect.ValueOf(b).Convert(to))

	default:
		if sv.Type().AssignableTo(to) {
			out.Set(sv)
			break
		}
		if sv.Type().ConvertibleTo(to) && sv.Kind() == to.Kind() {
			out.Set(sv.Convert(to))
			break
		}
		return fail(errors.New("unsupported conversion"))
	}
	return out, nil
}

func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	}
	return false
}

func srcName(src any) string {
	if src == nil {
		return "NULL"
	}
	return fmt.Sprintf("%T", src)
}

func toInt64(v reflect.Value) (int64, error) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fmt.Errorf("%g is not an integer", f)
		}
		return int64(f), nil
	case reflect.String:
		return strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
	case reflect.Slice:
		if v.Type() == bytesT {
			return strconv.ParseInt(strings.TrimSpace(string(v.Bytes())), 10, 64)
		}
	}
	return 0, fmt.Errorf("cannot read %s as integer", v.Type())
}

func toUint64(v reflect.Value) (uint64, error) {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		if n < 0 {
			return 0, fmt.Errorf("%d is negative", n)
		}
		return uint64(n), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
			return 0, fmt.Errorf("%g is not an unsigned integer", f)
		}
		return uint64(f), nil
	case reflect.String:
		return strconv.ParseUint(strings.TrimSpace(v.String()), 10, 64)
	case reflect.Slice:
		if v.Type() == bytesT {
			return strconv.ParseUint(strings.TrimSpace(string(v.Bytes())), 10, 64)
		}
	}
	return 0, fmt.Errorf("cannot read %s as unsigned integer", v.Type())
}

// toFloat64 reads numbers and numeric text. Integers must be exactly
// representable; text is parsed at the precision of the target.
func toFloat64(v reflect.Value, bits int) (float64, error) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		f := float64(n)
		if f >= 0x1p63 || int64(f) != n {
			return 0, fmt.Errorf("%d is not exact as float64", n)
		}
		return f, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := v.Uint()
		f := float64(n)
		if f >= 0x1p64 || uint64(f) != n {
			return 0, fmt.Errorf("%d is not exact as float64", n)
		}
		return f, nil
	case reflect.String:
		return strconv.ParseFloat(strings.TrimSpace(v.String()), bits)
	case reflect.Slice:
		if v.Type() == bytesT {
			return strconv.ParseFloat(strings.TrimSpace(string(v.Bytes())), bits)
		}
	}
	return 0, fmt.Errorf("cannot read %s as float", v.Type())
}

// toBool accepts booleans, the integers 0 and 1 (SQLite and MySQL store
// booleans that way) and the texts strconv.ParseBool understands.
func toBool(v reflect.Value) (bool, error) {
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt64(v)
		if err != nil || (n != 0 && n != 1) {
			return false, fmt.Errorf("%v is not a boolean", v.Interface())
		}
		return n == 1, nil
	case reflect.String:
		return strconv.ParseBool(strings.TrimSpace(v.String()))
	case reflect.Slice:
		if v.Type() == bytesT {
			return strconv.ParseBool(strings.TrimSpace(string(v.Bytes())))
		}
	}
	return false, fmt.Errorf("cannot read %s as boolean", v.Type())
}

// toTime accepts time values, text in the common SQL layouts and integer
// unix seconds.
func toTime(src any) (time.Time, error) {
	var s string
	switch v := src.(type) {
	case time.Time:
		return v, nil
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot read %T as time", src)
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func toUUID(src any) (uuid.UUID, error) {
	switch v := src.(type) {
	case uuid.UUID:
		return v, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case string:
		return uuid.Parse(v)
	case []byte:
		if len(v) == 16 {
			return uuid.FromBytes(v)
		}
		return uuid.ParseBytes(v)
	}
	return uuid.Nil, fmt.Errorf("cannot read %T as uuid", src)
}

func toULID(src any) (ulid.ULID, error) {
	switch v := src.(type) {
	case ulid.ULID:
		return v, nil
	case [16]byte:
		return ulid.ULID(v), nil
	case string:
		return ulid.Parse(v)
	case []byte:
		if len(v) == 16 {
			var id ulid.ULID
			copy(id[:], v)
			return id, nil
		}
		return ulid.Parse(string(v))
	}
	return ulid.ULID{}, fmt.Errorf("cannot read %T as ulid", src)
}
