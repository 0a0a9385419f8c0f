package codec

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

const jsonIndent = "    "

// EncodeJSON renders v the way existing archives were written: four space indent,
// sorted keys, ASCII-only output, shortest round-trip floats and no trailing newline.
// Time values are written in the datetime shape.
func EncodeJSON(v models.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeJSON parses an archive JSON document, turning datetime shapes back into time values.
func DecodeJSON(data []byte) (models.Value, error) {
	return models.DecodeJSON(bytes.NewReader(data), datetimeHook)
}

func writeJSON(buf *bytes.Buffer, v models.Value, depth int) error {
	switch v.Kind() {
	case models.KindNull:
		buf.WriteString("null")
	case models.KindBool:
		b, _ := v.AsBool()
		buf.WriteString(strconv.FormatBool(b))
	case models.KindInt:
		i, _ := v.AsInt()
		buf.WriteString(strconv.FormatInt(i, 10))
	case models.KindFloat:
		f, _ := v.AsFloat()
		buf.WriteString(formatFloat(f))
	case models.KindString:
		s, _ := v.AsString()
		writeString(buf, s)
	case models.KindTime:
		t, _ := v.AsTime()
		return writeJSON(buf, models.MapValue(DatetimeShape(t)), depth)
	case models.KindList:
		list, _ := v.AsList()
		if len(list) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteByte('[')
		for i, e := range list {
			if i > 0 {
				buf.WriteByte(',')
			}
			newline(buf, depth+1)
			if err := writeJSON(buf, e, depth+1); err != nil {
				return err
			}
		}
		newline(buf, depth)
		buf.WriteByte(']')
	case models.KindMap:
		m, _ := v.AsMap()
		if m.Len() == 0 {
			buf.WriteString("{}")
			return nil
		}
		keys := m.Keys()
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			newline(buf, depth+1)
			writeString(buf, k)
			buf.WriteString(": ")
			if err := writeJSON(buf, m.Value(k), depth+1); err != nil {
				return fmt.Errorf("field %q: %w", k, err)
			}
		}
		newline(buf, depth)
		buf.WriteByte('}')
	default:
		return fmt.Errorf("cannot encode %s as JSON", v.Kind())
	}
	return nil
}

func newline(buf *bytes.Buffer, depth int) {
	buf.WriteByte('\n')
	for range depth {
		buf.WriteString(jsonIndent)
	}
}

const hexDigits = "0123456789abcdef"

// writeString escapes everything outside printable ASCII as \uXXXX, using surrogate
// pairs above the basic multilingual plane.
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			i++
			switch c {
			case '"':
				buf.WriteString(`\"`)
			case '\\':
				buf.WriteString(`\\`)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			case '\b':
				buf.WriteString(`\b`)
			case '\f':
				buf.WriteString(`\f`)
			default:
				if c < 0x20 || c == 0x7f {
					writeUnicodeEscape(buf, rune(c))
				} else {
					buf.WriteByte(c)
				}
			}
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r > 0xFFFF {
			hi, lo := utf16.EncodeRune(r)
			writeUnicodeEscape(buf, hi)
			writeUnicodeEscape(buf, lo)
			continue
		}
		writeUnicodeEscape(buf, r)
	}
	buf.WriteByte('"')
}

func writeUnicodeEscape(buf *bytes.Buffer, r rune) {
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[(r>>12)&0xF])
	buf.WriteByte(hexDigits[(r>>8)&0xF])
	buf.WriteByte(hexDigits[(r>>4)&0xF])
	buf.WriteByte(hexDigits[r&0xF])
}

// formatFloat produces the shortest representation that round-trips, switching to
// exponent notation when the decimal point falls outside [-4, 16).
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}

	sign := ""
	if f < 0 {
		sign = "-"
		f = -f
	}
	// d.ddddde±XX
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, expPart, _ := strings.Cut(sci, "e")
	exp, _ := strconv.Atoi(expPart)
	digits := strings.Replace(mantissa, ".", "", 1)
	decpt := exp + 1

	if decpt <= -4 || decpt > 16 {
		out := digits[:1]
		if len(digits) > 1 {
			out += "." + digits[1:]
		}
		expSign := "+"
		if exp < 0 {
			expSign = "-"
			exp = -exp
		}
		return fmt.Sprintf("%s%se%s%02d", sign, out, expSign, exp)
	}
	switch {
	case decpt <= 0:
		return sign + "0." + strings.Repeat("0", -decpt) + digits
	case decpt >= len(digits):
		return sign + digits + strings.Repeat("0", decpt-len(digits)) + ".0"
	default:
		return sign + digits[:decpt] + "." + digits[decpt:]
	}
}

// Datetime shape keys.
const (
	typeKey       = "__type__"
	datetimeValue = "datetime"
)

var datetimeFields = []string{"year", "month", "day", "hour", "minute", "second", "microsecond"}

// DatetimeShape renders t in the {"__type__": "datetime", year, ...} form.
func DatetimeShape(t time.Time) *models.Map {
	t = t.UTC()
	m := models.NewMap()
	m.Set(typeKey, models.String(datetimeValue))
	m.Set("year", models.Int(int64(t.Year())))
	m.Set("month", models.Int(int64(t.Month())))
	m.Set("day", models.Int(int64(t.Day())))
	m.Set("hour", models.Int(int64(t.Hour())))
	m.Set("minute", models.Int(int64(t.Minute())))
	m.Set("second", models.Int(int64(t.Second())))
	m.Set("microsecond", models.Int(int64(t.Nanosecond()/1000)))
	return m
}

// ParseDatetimeShape converts a map carrying "__type__" into a time value. Missing
// time-of-day components default to zero; unknown keys, non-integers or out of range
// components leave the map as is.
func ParseDatetimeShape(m *models.Map) (time.Time, bool) {
	if !m.Has(typeKey) {
		return time.Time{}, false
	}
	parts := make(map[string]int64, len(datetimeFields))
	valid := true
	m.Range(func(k string, v models.Value) bool {
		if k == typeKey {
			return true
		}
		i, ok := v.AsInt()
		if !ok || !isDatetimeField(k) {
			valid = false
			return false
		}
		parts[k] = i
		return true
	})
	if !valid {
		return time.Time{}, false
	}
	for _, required := range datetimeFields[:3] {
		if _, ok := parts[required]; !ok {
			return time.Time{}, false
		}
	}
	year, month, day := parts["year"], parts["month"], parts["day"]
	hour, minute, second, micro := parts["hour"], parts["minute"], parts["second"], parts["microsecond"]
	if year < 1 || year > 9999 || month < 1 || month > 12 || day < 1 ||
		hour < 0 || hour > 23 || minute < 0 || minute > 59 ||
		second < 0 || second > 59 || micro < 0 || micro > 999999 {
		return time.Time{}, false
	}
	t := time.Date(int(year), time.Month(month), int(day), int(hour), int(minute), int(second), int(micro)*1000, time.UTC)
	if t.Day() != int(day) {
		// day overflowed into the next month
		return time.Time{}, false
	}
	return t, true
}

func isDatetimeField(k string) bool {
	for _, f := range datetimeFields {
		if f == k {
			return true
		}
	}
	return false
}

func datetimeHook(m *models.Map) models.Value {
	if t, ok := ParseDatetimeShape(m); ok {
		return models.Time(t)
	}
	return models.MapValue(m)
}

// restoreTimes replaces datetime shapes nested anywhere in v.
func restoreTimes(v models.Value) models.Value {
	switch v.Kind() {
	case models.KindList:
		list, _ := v.AsList()
		for i := range list {
			list[i] = restoreTimes(list[i])
		}
		return v
	case models.KindMap:
		m, _ := v.AsMap()
		for _, k := range m.Keys() {
			m.Set(k, restoreTimes(m.Value(k)))
		}
		return datetimeHook(m)
	}
	return v
}

// shapeTimes replaces every time value in v with its datetime shape, for formats without
// a native time type. The input is not modified.
func shapeTimes(v models.Value) models.Value {
	switch v.Kind() {
	case models.KindTime:
		t, _ := v.AsTime()
		return models.MapValue(DatetimeShape(t))
	case models.KindList:
		list, _ := v.AsList()
		out := make([]models.Value, len(list))
		for i := range list {
			out[i] = shapeTimes(list[i])
		}
		return models.List(out...)
	case models.KindMap:
		m, _ := v.AsMap()
		out := models.NewMap()
		m.Range(func(k string, e models.Value) bool {
			out.Set(k, shapeTimes(e))
			return true
		})
		return models.MapValue(out)
	}
	return v
}
