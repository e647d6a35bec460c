package booking

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedRng() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

func TestSelectSlotEmpty(t *testing.T) {
	_, ok := SelectSlot(nil, []string{"16:00"}, fixedRng())
	assert.False(t, ok)
}

func TestSelectSlotPreferredWins(t *testing.T) {
	slots := []Slot{
		{FieldNo: "001", BeginTime: "14:00", EndTime: "15:00"},
		{FieldNo: "002", BeginTime: "16:00", EndTime: "17:00"},
		{FieldNo: "003", BeginTime: "17:00", EndTime: "18:00"},
	}
	s, ok := SelectSlot(slots, []string{"16:00", "17:00"}, fixedRng())
	require.True(t, ok)
	assert.Equal(t, "002", s.FieldNo)
}

func TestSelectSlotPreferredOrder(t *testing.T) {
	slots := []Slot{
		{FieldNo: "001", BeginTime: "16:00"},
		{FieldNo: "002", BeginTime: "17:00"},
	}
	// Second preference present, first absent: second must win over fallback.
	s, ok := SelectSlot(slots, []string{"15:00", "17:00"}, fixedRng())
	require.True(t, ok)
	assert.Equal(t, "002", s.FieldNo)
}

func TestSelectSlotPrefixMatch(t *testing.T) {
	slots := []Slot{{FieldNo: "007", BeginTime: "16:00:00"}}
	s, ok := SelectSlot(slots, []string{"16:00"}, fixedRng())
	require.True(t, ok)
	assert.Equal(t, "007", s.FieldNo)
}

func TestSelectSlotFallback(t *testing.T) {
	slots := []Slot{
		{FieldNo: "001", BeginTime: "14:00"},
		{FieldNo: "002", BeginTime: "15:00"},
	}
	s, ok := SelectSlot(slots, []string{"20:00"}, nil)
	require.True(t, ok)
	// No shuffle, no preference match: first slot.
	assert.Equal(t, "001", s.FieldNo)

	s, ok = SelectSlot(slots, nil, nil)
	require.True(t, ok)
	assert.Equal(t, "001", s.FieldNo)
}

func TestSelectSlotDoesNotMutateInput(t *testing.T) {
	slots := []Slot{
		{FieldNo: "001", BeginTime: "14:00"},
		{FieldNo: "002", BeginTime: "15:00"},
		{FieldNo: "003", BeginTime: "16:00"},
	}
	_, _ = SelectSlot(slots, nil, fixedRng())
	assert.Equal(t, "001", slots[0].FieldNo)
	assert.Equal(t, "002", slots[1].FieldNo)
	assert.Equal(t, "003", slots[2].FieldNo)
}

func TestNormalizeTimes(t *testing.T) {
	assert.Equal(t, []string{"16:00", "17:00"}, NormalizeTimes(" 16:00, ,17:00,"))
	assert.Empty(t, NormalizeTimes(""))
}

func TestParseTimePeriod(t *testing.T) {
	for in, want := range map[string]TimePeriod{
		"morning":   Morning,
		"Afternoon": Afternoon,
		"evening":   Evening,
		"0":         Morning,
		"1":         Afternoon,
		"2":         Evening,
	} {
		got, err := ParseTimePeriod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseTimePeriod("midnight")
	assert.Error(t, err)
}

func TestQueryValidate(t *testing.T) {
	q := Query{DateOffset: 7, TimePeriod: Afternoon, VenueNo: "005", FieldTypeNo: "017"}
	assert.NoError(t, q.Validate())

	bad := q
	bad.DateOffset = -1
	assert.Error(t, bad.Validate())

	bad = q
	bad.TimePeriod = TimePeriod(9)
	assert.Error(t, bad.Validate())

	bad = q
	bad.VenueNo = " "
	assert.Error(t, bad.Validate())

	bad = q
	bad.FieldTypeNo = ""
	assert.Error(t, bad.Validate())
}
