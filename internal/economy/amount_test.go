package economy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "0"},
		{"0", "0"},
		{"10.00", "10"},
		{"0.010", "0.01"},
		{"-2.5", "-2.5"},
		{"1e2", "100"},
		{" 3 ", "3"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, err := ParseAmount(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.String())
		})
	}
}

func TestParseAmount_Rejects(t *testing.T) {
	for _, in := range []string{"abc", "NaN", "Infinity", "1.2.3"} {
		_, err := ParseAmount(in)
		assert.Error(t, err, in)
	}
}

func TestAmount_Arithmetic(t *testing.T) {
	a, b := MustAmount("1.25"), MustAmount("0.75")
	assert.Equal(t, "2", a.Add(b).String())
	assert.Equal(t, "0.5", a.Sub(b).String())
	assert.Equal(t, "0.9375", a.Mul(b).String())
	assert.Equal(t, "5", a.Quo(MustAmount("0.25")).String())
	assert.Equal(t, 1, a.Cmp(b))
	assert.Equal(t, -1, b.Sub(a).Sign())
	assert.True(t, Amount{}.IsZero())
	assert.Equal(t, "0", Amount{}.String())
}

func TestAmount_Floor(t *testing.T) {
	assert.Equal(t, "10.99", MustAmount("10.999").Floor(100).String())
	assert.Equal(t, "-1.01", MustAmount("-1.001").Floor(100).String())
	assert.Equal(t, "3.5", MustAmount("3.7").Floor(2).String())
	assert.Equal(t, "7", MustAmount("7.9").Floor(1).String())
	assert.Equal(t, "0.33", FromInt(1).Quo(FromInt(3)).Floor(0).String(), "non-positive units use the default")
}

func TestAmount_Fixed(t *testing.T) {
	assert.Equal(t, "10.00", FromInt(10).Fixed(2))
	assert.Equal(t, "0.33", MustAmount("0.339").Fixed(2))
}

func TestAmount_Text(t *testing.T) {
	var a Amount
	require.NoError(t, a.UnmarshalText([]byte("4.50")))
	b, err := a.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "4.5", string(b))
	assert.Error(t, a.UnmarshalText([]byte("x")))
}
