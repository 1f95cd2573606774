package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDataType(t *testing.T) {
	tests := []struct {
		in       string
		wantType DataType
		wantLen  int
	}{
		{"utf8", Utf8, 0},
		{"int64", Int64, 0},
		{"decimal(18,4)", Decimal, 2},
		{"list<int64>", List, 1},
	}

	for _, tt := range tests {
		dt, params, err := ParseDataType(tt.in)
		require.NoError(t, err)
		require.Equal(t, tt.wantType, dt)
		require.Len(t, params, tt.wantLen)
	}
}

func TestParseDataType_Unknown(t *testing.T) {
	_, _, err := ParseDataType("not_a_type")
	require.Error(t, err)
}

func TestParseDataType_ExpandedLattice(t *testing.T) {
	tests := []struct {
		in       string
		wantType DataType
	}{
		{"uint8", Uint8},
		{"uint64", Uint64},
		{"large_utf8", LargeUtf8},
		{"fixed_size_binary(16)", FixedSizeBinary},
		{"date64", Date64},
		{"time32<millisecond>", Time32},
		{"time64<nanosecond>", Time64},
		{"duration<microsecond>", Duration},
		{"interval_year_month", IntervalYearMonth},
		{"interval_day_time", IntervalDayTime},
		{"interval_month_day_nano", IntervalMonthDayNano},
		{"decimal256(50,10)", Decimal256},
		{"large_list<utf8>", LargeList},
		{"fixed_size_list<int32,4>", FixedSizeList},
		{"map<utf8,int64>", Map},
		{"union<a:int32,b:utf8>", Union},
		{"dictionary<int32,utf8>", Dictionary},
	}
	for _, tt := range tests {
		dt, _, err := ParseDataType(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.wantType, dt, tt.in)
	}
}

func TestParseField_NestedStruct(t *testing.T) {
	f, err := ParseField("payload", "struct<a:int32,b:utf8>")
	require.NoError(t, err)
	require.Equal(t, Struct, f.Type)
	require.Len(t, f.Fields, 2)
	require.Equal(t, "a", f.Fields[0].Name)
	require.Equal(t, Int32, f.Fields[0].Type)
	require.Equal(t, "b", f.Fields[1].Name)
	require.Equal(t, Utf8, f.Fields[1].Type)
}

func TestParseField_ListAndMap(t *testing.T) {
	list, err := ParseField("tags", "list<utf8>")
	require.NoError(t, err)
	require.NotNil(t, list.Elem)
	require.Equal(t, Utf8, list.Elem.Type)

	m, err := ParseField("attrs", "map<utf8,int64>")
	require.NoError(t, err)
	require.NotNil(t, m.Key)
	require.NotNil(t, m.Elem)
	require.Equal(t, Utf8, m.Key.Type)
	require.Equal(t, Int64, m.Elem.Type)
}

func TestParseField_TimestampWithTimezone(t *testing.T) {
	f, err := ParseField("ts", "timestamp<millisecond,UTC>")
	require.NoError(t, err)
	require.Equal(t, TimestampTZ, f.Type)
	require.Equal(t, "millisecond", f.Unit)
	require.Equal(t, "UTC", f.Timezone)
}

func TestSchema_Project(t *testing.T) {
	s := Schema{Fields: []Field{
		{Name: "id", Type: Int64},
		{Name: "name", Type: Utf8},
		{Name: "amount", Type: Decimal},
	}}

	projected, err := s.Project([]string{"name", "id"})
	require.NoError(t, err)
	require.Equal(t, []Field{{Name: "name", Type: Utf8}, {Name: "id", Type: Int64}}, projected.Fields)

	_, err = s.Project([]string{"missing"})
	require.Error(t, err)
}

func TestCanCastLossless(t *testing.T) {
	require.True(t, CanCastLossless(Int32, Int64))
	require.False(t, CanCastLossless(Int64, Int32))
	require.True(t, CanCastLossless(Int32, Float64))
	require.True(t, CanCastLossless(Date32, Timestamp))
	require.False(t, CanCastLossless(Timestamp, TimestampTZ))
}

func TestCoerce(t *testing.T) {
	expected := Schema{Fields: []Field{{Name: "id", Type: Int64}, {Name: "name", Type: Utf8, Nullable: true}}}

	actual := Schema{Fields: []Field{{Name: "id", Type: Int32}, {Name: "name", Type: Utf8, Nullable: true}}}
	require.NoError(t, Coerce(expected, actual))

	missing := Schema{Fields: []Field{{Name: "id", Type: Int64}}}
	require.Error(t, Coerce(expected, missing))

	lossy := Schema{Fields: []Field{{Name: "id", Type: Utf8}, {Name: "name", Type: Utf8, Nullable: true}}}
	require.Error(t, Coerce(expected, lossy))

	nullMismatch := Schema{Fields: []Field{
		{Name: "id", Type: Int64},
		{Name: "name", Type: Utf8, Nullable: true},
	}}
	expectedNonNull := Schema{Fields: []Field{
		{Name: "id", Type: Int64},
		{Name: "name", Type: Utf8, Nullable: false},
	}}
	require.Error(t, Coerce(expectedNonNull, nullMismatch))
}
