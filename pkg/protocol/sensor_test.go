package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampDecimalPlaces(t *testing.T) {
	cases := map[int]int{
		-100: 0,
		-1:   0,
		0:    0,
		2:    2,
		15:   15,
		16:   15,
		999:  15,
	}
	for in, want := range cases {
		assert.Equal(t, want, ClampDecimalPlaces(in))
	}
}

func TestSanitizeSensors(t *testing.T) {
	t.Run("clamps precision and keeps order", func(t *testing.T) {
		sensors := []Sensor{
			{UniqueSensorKey: "a", Value: "1.5", DecimalPlaces: 22},
			{UniqueSensorKey: "b", Value: "2", DecimalPlaces: -3},
			{UniqueSensorKey: "c", Value: "3", DecimalPlaces: 4},
		}

		out := SanitizeSensors(sensors)
		require.Len(t, out, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{out[0].UniqueSensorKey, out[1].UniqueSensorKey, out[2].UniqueSensorKey})
		assert.Equal(t, 15, out[0].DecimalPlaces)
		assert.Equal(t, 0, out[1].DecimalPlaces)
		assert.Equal(t, 4, out[2].DecimalPlaces)
	})

	t.Run("drops duplicate keys keeping first", func(t *testing.T) {
		sensors := []Sensor{
			{UniqueSensorKey: "temp", Value: "20.1"},
			{UniqueSensorKey: "temp", Value: "99.9"},
			{UniqueSensorKey: "humidity", Value: "40"},
		}

		out := SanitizeSensors(sensors)
		require.Len(t, out, 2)
		assert.Equal(t, "20.1", out[0].Value)
		assert.Equal(t, "humidity", out[1].UniqueSensorKey)
	})
}

func TestValidateSensors(t *testing.T) {
	t.Run("accepts valid batch", func(t *testing.T) {
		sensors := []Sensor{
			{UniqueSensorKey: "a", Value: "1", DecimalPlaces: 0},
			{UniqueSensorKey: "b", Value: "2", DecimalPlaces: 15},
		}
		assert.NoError(t, ValidateSensors(sensors))
	})

	t.Run("rejects duplicate keys", func(t *testing.T) {
		sensors := []Sensor{
			{UniqueSensorKey: "a", Value: "1"},
			{UniqueSensorKey: "a", Value: "2"},
		}
		assert.Error(t, ValidateSensors(sensors))
	})

	t.Run("rejects empty key", func(t *testing.T) {
		assert.Error(t, ValidateSensors([]Sensor{{Value: "1"}}))
	})

	t.Run("rejects out-of-range precision", func(t *testing.T) {
		assert.Error(t, ValidateSensors([]Sensor{{UniqueSensorKey: "a", Value: "1", DecimalPlaces: 16}}))
	})
}

func TestGetDecimalPlaces(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"not a number", 0},
		{"42", 0},
		{"42.0", 0},   // trailing zeros collapse
		{"42.50", 1},  // canonical form is 42.5
		{"3.14159", 5},
		{"-0.001", 3},
		{"1e-3", 3},
		{"  7.25  ", 2},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, GetDecimalPlaces(tc.in), tc.in)
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "3.14", FormatValue(3.14159, 2))
	assert.Equal(t, "3", FormatValue(3.14159, 0))
	assert.Equal(t, "2.500", FormatValue(2.5, 3))
	// out-of-range precision clamps rather than erroring
	assert.Equal(t, "1", FormatValue(1.2, -5))
}
