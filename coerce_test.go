package sqlmap

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/oklog/ulid/v2"
)

type heroClass int

const (
	classUnknown heroClass = iota
	classHero
	classVillain
)

func (c *heroClass) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "HERO":
		*c = classHero
	case "VILLAIN":
		*c = classVillain
	default:
		return fmt.Errorf("unknown class %q", b)
	}
	return nil
}

func coerceTo[V any](t *testing.T, src any) (V, error) {
	t.Helper()
	var zero V
	v, err := coerce("col", src, reflect.TypeFor[V](), false)
	if err != nil {
		return zero, err
	}
	out, _ := v.Interface().(V)
	return out, nil
}

func mustCoerce[V any](t *testing.T, src any) V {
	t.Helper()
	v, err := coerceTo[V](t, src)
	assertNoError(t, err)
	return v
}

func assertCoercionError(t *testing.T, err error) *CoercionError {
	t.Helper()
	var ce *CoercionError
	if !errors.As(err, &ce) || !errors.Is(err, ErrTypeCoercion) {
		t.Fatalf("expected *CoercionError, got %v", err)
	}
	if ce.Column != "col" {
		t.Fatalf("column=%q, want col", ce.Column)
	}
	return ce
}

// --------------------------------
// Numbers
// --------------------------------

// TestCoerce_Integers widens and narrows within range only.
func TestCoerce_Integers(t *testing.T) {
	if got := mustCoerce[int](t, int64(42)); got != 42 {
		t.Fatalf("int64 -> int = %d", got)
	}
	if got := mustCoerce[int16](t, int32(-7)); got != -7 {
		t.Fatalf("int32 -> int16 = %d", got)
	}
	if got := mustCoerce[int64](t, []byte(" 12 ")); got != 12 {
		t.Fatalf("[]byte -> int64 = %d", got)
	}
	if got := mustCoerce[int64](t, "-3"); got != -3 {
		t.Fatalf("string -> int64 = %d", got)
	}
	if got := mustCoerce[int](t, float64(8)); got != 8 {
		t.Fatalf("integral float -> int = %d", got)
	}
	if got := mustCoerce[uint8](t, int64(255)); got != 255 {
		t.Fatalf("int64 -> uint8 = %d", got)
	}

	_, err := coerceTo[int8](t, int64(128))
	ce := assertCoercionError(t, err)
	if ce.From != "int64" || ce.To != "int8" {
		t.Fatalf("from/to = %s/%s", ce.From, ce.To)
	}
	_, err = coerceTo[uint](t, int64(-1))
	assertCoercionError(t, err)
	_, err = coerceTo[int](t, 1.5)
	assertCoercionError(t, err)
	_, err = coerceTo[int](t, "abc")
	assertCoercionError(t, err)
	_, err = coerceTo[int](t, true)
	assertCoercionError(t, err)
	_, err = coerceTo[int64](t, uint64(math.MaxUint64))
	assertCoercionError(t, err)
}

// TestCoerce_Floats accepts integers, floats and numeric text.
func TestCoerce_Floats(t *testing.T) {
	if got := mustCoerce[float64](t, int64(3)); got != 3 {
		t.Fatalf("int64 -> float64 = %v", got)
	}
	if got := mustCoerce[float32](t, float64(1.5)); got != 1.5 {
		t.Fatalf("float64 -> float32 = %v", got)
	}
	if got := mustCoerce[float64](t, []byte("2.25")); got != 2.25 {
		t.Fatalf("[]byte -> float64 = %v", got)
	}
	if got := mustCoerce[float32](t, "0.1"); got != float32(0.1) {
		t.Fatalf("text -> float32 = %v", got)
	}
	if got := mustCoerce[float64](t, int64(1<<53)); got != 1<<53 {
		t.Fatalf("2^53 -> float64 = %v", got)
	}
	_, err := coerceTo[float32](t, math.MaxFloat64)
	assertCoercionError(t, err)
	_, err = coerceTo[float64](t, "1,5")
	assertCoercionError(t, err)
}

// TestCoerce_Floats_PrecisionLoss fails instead of rounding.
func TestCoerce_Floats_PrecisionLoss(t *testing.T) {
	lossy := []struct {
		name string
		run  func() error
	}{
		{"int64 2^53+1 -> float64", func() error { _, err := coerceTo[float64](t, int64(1<<53+1)); return err }},
		{"int64 max -> float64", func() error { _, err := coerceTo[float64](t, int64(math.MaxInt64)); return err }},
		{"uint64 max -> float64", func() error { _, err := coerceTo[float64](t, uint64(math.MaxUint64)); return err }},
		{"int64 2^24+1 -> float32", func() error { _, err := coerceTo[float32](t, int64(1<<24+1)); return err }},
		{"float64 0.1 -> float32", func() error { _, err := coerceTo[float32](t, 0.1); return err }},
	}
	for _, c := range lossy {
		ce := assertCoercionError(t, c.run())
		if ce.Err == nil || !strings.Contains(ce.Err.Error(), "not exact") {
			t.Fatalf("%s: cause=%v, want precision error", c.name, ce.Err)
		}
	}
	if got := mustCoerce[float32](t, float64(0.5)); got != 0.5 {
		t.Fatalf("exact float64 -> float32 = %v", got)
	}
}

// TestCoerce_DriverValuer reads driver wrapper types through their value.
func TestCoerce_DriverValuer(t *testing.T) {
	var gross pgtype.Numeric
	assertNoError(t, gross.Scan("123456.78"))
	if got := mustCoerce[float64](t, gross); got != 123456.78 {
		t.Fatalf("numeric -> float64 = %v", got)
	}
	if got := mustCoerce[string](t, gross); got != "123456.78" {
		t.Fatalf("numeric -> string = %q", got)
	}

	var count pgtype.Numeric
	assertNoError(t, count.Scan("42"))
	if got := mustCoerce[int64](t, count); got != 42 {
		t.Fatalf("numeric -> int64 = %v", got)
	}
	_, err := coerceTo[int64](t, gross)
	ce := assertCoercionError(t, err)
	if ce.From != "pgtype.Numeric" {
		t.Fatalf("from=%q, want pgtype.Numeric", ce.From)
	}

	if got := mustCoerce[*float64](t, pgtype.Numeric{}); got != nil {
		t.Fatalf("invalid numeric -> *float64 = %v", *got)
	}
	if got := mustCoerce[pgtype.Numeric](t, gross); !got.Valid {
		t.Fatalf("numeric -> numeric must pass through")
	}
}

// TestCoerce_Bool reads booleans, 0/1 and boolean text.
func TestCoerce_Bool(t *testing.T) {
	cases := []struct {
		src  any
		want bool
	}{
		{true, true}, {int64(1), true}, {int64(0), false}, {"t", true}, {[]byte("false"), false},
	}
	for _, c := range cases {
		if got := mustCoerce[bool](t, c.src); got != c.want {
			t.Fatalf("%#v -> bool = %v, want %v", c.src, got, c.want)
		}
	}
	_, err := coerceTo[bool](t, int64(2))
	assertCoercionError(t, err)
	_, err = coerceTo[bool](t, "yes")
	assertCoercionError(t, err)
}

// --------------------------------
// Text, bytes and NULL
// --------------------------------

// TestCoerce_TextAndBytes converts between string and []byte, copying bytes.
func TestCoerce_TextAndBytes(t *testing.T) {
	if got := mustCoerce[string](t, []byte("Batman")); got != "Batman" {
		t.Fatalf("[]byte -> string = %q", got)
	}
	src := []byte{1, 2, 3}
	got := mustCoerce[[]byte](t, src)
	src[0] = 9
	if got[0] != 1 {
		t.Fatalf("[]byte must be copied")
	}
	if got := mustCoerce[[]byte](t, "ab"); string(got) != "ab" {
		t.Fatalf("string -> []byte = %q", got)
	}
	_, err := coerceTo[string](t, int64(5))
	assertCoercionError(t, err)
}

// TestCoerce_Null goes into pointers, interfaces and Scanners only.
func TestCoerce_Null(t *testing.T) {
	if got := mustCoerce[*string](t, nil); got != nil {
		t.Fatalf("NULL -> *string = %v", got)
	}
	if got := mustCoerce[any](t, nil); got != nil {
		t.Fatalf("NULL -> any = %v", got)
	}
	if got := mustCoerce[sql.NullString](t, nil); got.Valid {
		t.Fatalf("NULL -> NullString must be invalid")
	}
	_, err := coerceTo[string](t, nil)
	ce := assertCoercionError(t, err)
	if ce.From != "NULL" {
		t.Fatalf("from=%q, want NULL", ce.From)
	}
	_, err = coerceTo[int](t, nil)
	assertCoercionError(t, err)

	p := mustCoerce[*int](t, int64(4))
	if p == nil || *p != 4 {
		t.Fatalf("int64 -> *int = %v", p)
	}
}

// --------------------------------
// Structured values
// --------------------------------

// TestCoerce_Time reads time values, SQL text layouts and unix seconds.
func TestCoerce_Time(t *testing.T) {
	want := time.Date(2024, 3, 9, 10, 11, 12, 0, time.UTC)
	srcs := []any{
		want,
		"2024-03-09T10:11:12Z",
		"2024-03-09 10:11:12",
		[]byte("2024-03-09 10:11:12+00:00"),
		want.Unix(),
	}
	for _, src := range srcs {
		if got := mustCoerce[time.Time](t, src); !got.Equal(want) {
			t.Fatalf("%#v -> time = %v, want %v", src, got, want)
		}
	}
	if got := mustCoerce[time.Time](t, "2024-03-09"); !got.Equal(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date-only -> time = %v", got)
	}
	_, err := coerceTo[time.Time](t, "yesterday")
	assertCoercionError(t, err)

	p := mustCoerce[*time.Time](t, "2024-03-09T10:11:12Z")
	if p == nil || !p.Equal(want) {
		t.Fatalf("text -> *time.Time = %v", p)
	}
}

// TestCoerce_UUID parses text and raw bytes.
func TestCoerce_UUID(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	for _, src := range []any{id.String(), []byte(id.String()), id[:], [16]byte(id)} {
		if got := mustCoerce[uuid.UUID](t, src); got != id {
			t.Fatalf("%#v -> uuid = %v", src, got)
		}
	}
	_, err := coerceTo[uuid.UUID](t, "not-a-uuid")
	assertCoercionError(t, err)
	_, err = coerceTo[uuid.UUID](t, nil)
	assertCoercionError(t, err)
	if got := mustCoerce[*uuid.UUID](t, nil); got != nil {
		t.Fatalf("NULL -> *uuid.UUID = %v", got)
	}
}

// TestCoerce_ULID parses text and raw bytes.
func TestCoerce_ULID(t *testing.T) {
	id := ulid.MustParse("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	for _, src := range []any{id.String(), []byte(id.String()), id[:]} {
		if got := mustCoerce[ulid.ULID](t, src); got != id {
			t.Fatalf("%#v -> ulid = %v", src, got)
		}
	}
	_, err := coerceTo[ulid.ULID](t, "short")
	assertCoercionError(t, err)
}

// TestCoerce_EnumByName decodes text through encoding.TextUnmarshaler.
func TestCoerce_EnumByName(t *testing.T) {
	if got := mustCoerce[heroClass](t, "hero"); got != classHero {
		t.Fatalf("hero -> %v", got)
	}
	if got := mustCoerce[heroClass](t, []byte("VILLAIN")); got != classVillain {
		t.Fatalf("VILLAIN -> %v", got)
	}
	_, err := coerceTo[heroClass](t, "sidekick")
	ce := assertCoercionError(t, err)
	if ce.Err == nil || !strings.Contains(ce.Err.Error(), "sidekick") {
		t.Fatalf("cause should name the value: %v", ce.Err)
	}
	// Stored as a number, the enum reads like any integer.
	if got := mustCoerce[heroClass](t, int64(2)); got != classVillain {
		t.Fatalf("2 -> %v", got)
	}
}

// TestCoerce_JSON decodes JSON columns.
func TestCoerce_JSON(t *testing.T) {
	type powers struct {
		Flight bool     `json:"flight"`
		Skills []string `json:"skills"`
	}
	v, err := coerce("col", []byte(`{"flight":true,"skills":["x-ray"]}`), reflect.TypeOf(powers{}), true)
	assertNoError(t, err)
	got := v.Interface().(powers)
	if !got.Flight || len(got.Skills) != 1 || got.Skills[0] != "x-ray" {
		t.Fatalf("decoded %+v", got)
	}

	v, err = coerce("col", nil, reflect.TypeOf(map[string]any{}), true)
	assertNoError(t, err)
	if !v.IsNil() {
		t.Fatalf("NULL JSON into map must be nil")
	}

	_, err = coerce("col", "{broken", reflect.TypeOf(powers{}), true)
	assertCoercionError(t, err)
	_, err = coerce("col", nil, reflect.TypeOf(powers{}), true)
	assertCoercionError(t, err)
	_, err = coerce("col", int64(1), reflect.TypeOf(powers{}), true)
	assertCoercionError(t, err)
}

// TestCoerce_Scanner hands the raw value to sql.Scanner targets.
func TestCoerce_Scanner(t *testing.T) {
	got := mustCoerce[sql.NullInt64](t, int64(7))
	if !got.Valid || got.Int64 != 7 {
		t.Fatalf("NullInt64 = %+v", got)
	}
	_, err := coerceTo[sql.NullInt64](t, "x")
	assertCoercionError(t, err)
}
