// Package schema implements the universal DataType lattice (C3): the set
// of logical column types every source, stage, and destination agrees on,
// independent of the concrete SQL engine backing a run.
package schema

import (
	"fmt"
	"strings"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
)

// DataType is a logical column type in the universal lattice.
type DataType int

const (
	Unknown DataType = iota
	Boolean
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	Decimal128
	Decimal256
	Utf8
	LargeUtf8
	Binary
	FixedSizeBinary
	Date32
	Date64
	Time32
	Time64
	Timestamp
	TimestampTZ
	Duration
	IntervalYearMonth
	IntervalDayTime
	IntervalMonthDayNano
	List
	LargeList
	FixedSizeList
	Struct
	Map
	Union
	Dictionary

	// Decimal is the historical alias for Decimal128, the default width
	// decimal literals resolve to when no explicit size suffix is given.
	Decimal = Decimal128
)

var names = map[DataType]string{
	Boolean:              "boolean",
	Int8:                 "int8",
	Int16:                "int16",
	Int32:                "int32",
	Int64:                "int64",
	Uint8:                "uint8",
	Uint16:               "uint16",
	Uint32:               "uint32",
	Uint64:               "uint64",
	Float32:              "float32",
	Float64:              "float64",
	Decimal128:           "decimal",
	Decimal256:           "decimal256",
	Utf8:                 "utf8",
	LargeUtf8:             "large_utf8",
	Binary:               "binary",
	FixedSizeBinary:      "fixed_size_binary",
	Date32:               "date32",
	Date64:               "date64",
	Time32:               "time32",
	Time64:               "time64",
	Timestamp:            "timestamp",
	TimestampTZ:          "timestamp_tz",
	Duration:             "duration",
	IntervalYearMonth:    "interval_year_month",
	IntervalDayTime:      "interval_day_time",
	IntervalMonthDayNano: "interval_month_day_nano",
	List:                 "list",
	LargeList:            "large_list",
	FixedSizeList:        "fixed_size_list",
	Struct:               "struct",
	Map:                  "map",
	Union:                "union",
	Dictionary:           "dictionary",
}

// aliases adds alternate spellings: "decimal128" for the Decimal128
// family (whose canonical name stays "decimal"), and "string" for Utf8.
var aliases = map[string]DataType{
	"decimal128": Decimal128,
	"string":     Utf8,
}

var byName = func() map[string]DataType {
	m := make(map[string]DataType, len(names)+len(aliases))
	for k, v := range names {
		m[v] = k
	}
	for k, v := range aliases {
		m[k] = v
	}
	return m
}()

func (t DataType) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return "unknown"
}

// ParseDataType parses a type string, e.g. "utf8" or "decimal(18,4)" or
// "list<int64>" or "struct<a:int32,b:string>", into a Field-compatible
// DataType plus its raw parameters. Compound types (list/struct/map/etc.)
// are further resolved into nested Fields by ParseField, which calls this
// recursively.
func ParseDataType(s string) (DataType, []string, error) {
	s = strings.TrimSpace(s)
	name := s
	var params []string

	if i := strings.IndexAny(s, "(<"); i >= 0 {
		name = s[:i]
		open, close := s[i], closingOf(s[i])
		if !strings.HasSuffix(s, string(close)) {
			return Unknown, nil, aqerrors.Newf(aqerrors.SchemaValidation, "parse-type",
				"unterminated %q in type %q", string(open), s)
		}
		inner := s[i+1 : len(s)-1]
		params = splitTopLevel(inner)
	}

	dt, ok := byName[strings.ToLower(name)]
	if !ok {
		return Unknown, nil, aqerrors.Newf(aqerrors.SchemaValidation, "parse-type", "unknown data type %q", s)
	}
	return dt, params, nil
}

// splitTopLevel splits a comma list while respecting nested <...>/(...)
// brackets, so "struct<a:int32,b:list<string>>" does not split inside the
// nested list's parameter.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '<', '(':
			depth++
		case '>', ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	parts = append(parts, strings.TrimSpace(s[start:]))
	return parts
}

func closingOf(open byte) byte {
	if open == '(' {
		return ')'
	}
	return '>'
}

// ParseField parses a full type string into a Field, recursing into
// compound types: "list<T>"/"large_list<T>" populate Elem; "struct<a:T,
// b:T>" populates Fields in declaration order; "map<K,V>" populates Key
// and Elem; "decimal(p,s)"/"decimal256(p,s)" populate Precision/Scale;
// "fixed_size_binary(n)" and "fixed_size_list<T,n>" populate ListSize;
// "timestamp<unit,tz>"/"time32<unit>"/"duration<unit>" populate Unit (and
// Timezone for timestamp).
func ParseField(name, typeStr string) (Field, error) {
	dt, params, err := ParseDataType(typeStr)
	if err != nil {
		return Field{}, err
	}

	f := Field{Name: name, Type: dt}
	switch dt {
	case Decimal128, Decimal256:
		if len(params) != 2 {
			return Field{}, aqerrors.Newf(aqerrors.SchemaValidation, "parse-field", "%s requires (precision,scale), got %q", dt, typeStr)
		}
		if _, err := fmt.Sscanf(params[0], "%d", &f.Precision); err != nil {
			return Field{}, aqerrors.Newf(aqerrors.SchemaValidation, "parse-field", "invalid precision in %q", typeStr)
		}
		if _, err := fmt.Sscanf(params[1], "%d", &f.Scale); err != nil {
			return Field{}, aqerrors.Newf(aqerrors.SchemaValidation, "parse-field", "invalid scale in %q", typeStr)
		}
	case FixedSizeBinary:
		if len(params) != 1 {
			return Field{}, aqerrors.Newf(aqerrors.SchemaValidation, "parse-field", "fixed_size_binary requires (n), got %q", typeStr)
		}
		if _, err := fmt.Sscanf(params[0], "%d", &f.ListSize); err != nil {
			return Field{}, aqerrors.Newf(aqerrors.SchemaValidation, "parse-field", "invalid size in %q", typeStr)
		}
	case Time32, Time64, Duration:
		if len(params) >= 1 {
			f.Unit = params[0]
		}
	case Timestamp, TimestampTZ:
		if len(params) >= 1 {
			f.Unit = params[0]
		}
		if len(params) >= 2 {
			f.Timezone = params[1]
			f.Type = TimestampTZ
		}
	case List, LargeList:
		if len(params) != 1 {
			return Field{}, aqerrors.Newf(aqerrors.SchemaValidation, "parse-field", "%s requires <elem_type>, got %q", dt, typeStr)
		}
		elem, err := ParseField("item", params[0])
		if err != nil {
			return Field{}, err
		}
		f.Elem = &elem
	case FixedSizeList:
		if len(params) != 2 {
			return Field{}, aqerrors.Newf(aqerrors.SchemaValidation, "parse-field", "fixed_size_list requires <elem_type,n>, got %q", typeStr)
		}
		elem, err := ParseField("item", params[0])
		if err != nil {
			return Field{}, err
		}
		f.Elem = &elem
		if _, err := fmt.Sscanf(params[1], "%d", &f.ListSize); err != nil {
			return Field{}, aqerrors.Newf(aqerrors.SchemaValidation, "parse-field", "invalid size in %q", typeStr)
		}
	case Map:
		if len(params) != 2 {
			return Field{}, aqerrors.Newf(aqerrors.SchemaValidation, "parse-field", "map requires <key_type,value_type>, got %q", typeStr)
		}
		key, err := ParseField("key", params[0])
		if err != nil {
			return Field{}, err
		}
		val, err := ParseField("value", params[1])
		if err != nil {
			return Field{}, err
		}
		f.Key = &key
		f.Elem = &val
	case Struct, Union:
		f.Fields = make([]Field, 0, len(params))
		for _, p := range params {
			parts := strings.SplitN(p, ":", 2)
			if len(parts) != 2 {
				return Field{}, aqerrors.Newf(aqerrors.SchemaValidation, "parse-field", "%s member %q must be name:type", dt, p)
			}
			member, err := ParseField(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
			if err != nil {
				return Field{}, err
			}
			f.Fields = append(f.Fields, member)
		}
	case Dictionary:
		if len(params) != 2 {
			return Field{}, aqerrors.Newf(aqerrors.SchemaValidation, "parse-field", "dictionary requires <index_type,value_type>, got %q", typeStr)
		}
		idx, err := ParseField("index", params[0])
		if err != nil {
			return Field{}, err
		}
		val, err := ParseField("value", params[1])
		if err != nil {
			return Field{}, err
		}
		f.IndexType = &idx
		f.Elem = &val
	}
	return f, nil
}

// Field describes a single column: its name, logical type, nullability,
// and the type's parameters (precision/scale for decimals, a unit/timezone
// for time-likes, nested fields for compound types).
type Field struct {
	Name        string
	Type        DataType
	Nullable    bool
	Description string

	Precision int // Decimal128/Decimal256
	Scale     int // Decimal128/Decimal256

	Unit     string // Time32/Time64/Timestamp/Duration: "second"|"millisecond"|"microsecond"|"nanosecond"
	Timezone string // Timestamp only, when tagged as TimestampTZ

	Elem *Field // element type for List/LargeList/FixedSizeList; value type for Dictionary
	Key  *Field // key type for Map

	ListSize int // FixedSizeList length, or FixedSizeBinary byte width

	// Fields holds the ordered member fields of a Struct, or the variant
	// fields of a Union. Distinct from Elem, which sizes a single
	// homogeneous element/value type for the List and Dictionary
	// families.
	Fields []Field

	IndexType *Field // Dictionary's index type; Elem holds the value type
}

// Schema is an ordered set of Fields.
type Schema struct {
	Fields []Field
}

// ByName returns the Field with the given name, or false if absent.
func (s Schema) ByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Project returns a new Schema containing only the named fields, in the
// order requested. It errors if any name is absent.
func (s Schema) Project(names []string) (Schema, error) {
	out := Schema{Fields: make([]Field, 0, len(names))}
	for _, n := range names {
		f, ok := s.ByName(n)
		if !ok {
			return Schema{}, aqerrors.Newf(aqerrors.SchemaValidation, "project", "no such field %q", n)
		}
		out.Fields = append(out.Fields, f)
	}
	return out, nil
}

// widenRank orders types from narrowest to widest within a numeric family,
// used to decide whether a cast is lossless.
var widenRank = map[DataType]int{
	Int8: 1, Int16: 2, Int32: 3, Int64: 4,
	Uint8: 1, Uint16: 2, Uint32: 3, Uint64: 4,
	Float32: 10, Float64: 11,
}

var isSigned = map[DataType]bool{Int8: true, Int16: true, Int32: true, Int64: true}
var isUnsigned = map[DataType]bool{Uint8: true, Uint16: true, Uint32: true, Uint64: true}
var isFloat = map[DataType]bool{Float32: true, Float64: true}
var isInt = func() map[DataType]bool {
	m := map[DataType]bool{}
	for k := range isSigned {
		m[k] = true
	}
	for k := range isUnsigned {
		m[k] = true
	}
	return m
}()

// CanCastLossless reports whether a value of type from can always be
// represented exactly as type to, without truncation or precision loss.
func CanCastLossless(from, to DataType) bool {
	if from == to {
		return true
	}
	fr, fok := widenRank[from]
	tr, tok := widenRank[to]
	if fok && tok {
		switch {
		case isInt[from] && isInt[to]:
			// Widening within the same signedness is lossless; crossing
			// signed<->unsigned is only safe same-width-or-narrower with a
			// matching sign, which this lattice does not track further, so
			// treat it conservatively as lossy unless widths match exactly
			// and the families agree.
			if isSigned[from] == isSigned[to] {
				return tr >= fr
			}
			return false
		case isInt[from] && to == Float64:
			return true
		case isInt[from] && to == Float32:
			return fr <= widenRank[Int16]
		case isFloat[from] && isFloat[to]:
			return tr >= fr
		}
		return false
	}
	switch {
	case from == Date32 && to == Date64:
		return true
	case from == Date32 && to == Timestamp:
		return true
	case from == Date64 && to == Timestamp:
		return true
	case from == Timestamp && to == TimestampTZ:
		return false // ambiguous without a source offset
	case from == Time32 && to == Time64:
		return true
	case from == Utf8 && to == LargeUtf8:
		return true
	case isInt[from] && to == Utf8:
		return true
	case isInt[from] && to == LargeUtf8:
		return true
	case to == Utf8, to == LargeUtf8:
		return false
	default:
		return false
	}
}

// Coerce validates that actual can satisfy expected under the pipeline's
// schema contract: every expected field must be present in actual with an
// identical or losslessly-castable type, and a field that expected
// declares non-nullable must not be nullable in actual.
func Coerce(expected, actual Schema) error {
	var problems []string
	for _, ef := range expected.Fields {
		af, ok := actual.ByName(ef.Name)
		if !ok {
			problems = append(problems, fmt.Sprintf("missing field %q", ef.Name))
			continue
		}
		if af.Type != ef.Type && !CanCastLossless(af.Type, ef.Type) {
			problems = append(problems, fmt.Sprintf("field %q: cannot coerce %s to %s", ef.Name, af.Type, ef.Type))
			continue
		}
		if !ef.Nullable && af.Nullable {
			problems = append(problems, fmt.Sprintf("field %q: destination requires non-null but source allows null", ef.Name))
		}
	}
	if len(problems) > 0 {
		return aqerrors.Newf(aqerrors.SchemaValidation, "coerce", "schema mismatch: %s", strings.Join(problems, "; "))
	}
	return nil
}
