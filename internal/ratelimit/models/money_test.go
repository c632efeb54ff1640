package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "chatguard/pkg/domain-errors"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in   string
		want Money
	}{
		{"10", 10_000_000},
		{"9.50", 9_500_000},
		{"0.60", 600_000},
		{".5", 500_000},
		{"0.000001", 1},
		{" 1.25 ", 1_250_000},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseMoney(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseMoneyRejects(t *testing.T) {
	for _, in := range []string{"", "-1", "1.0000001", "abc", "1.2.3", ".", "1.-5"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseMoney(in)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "9.50", Money(9_500_000).String())
	assert.Equal(t, "0.00", Money(0).String())
	assert.Equal(t, "0.000125", Money(125).String())
	assert.Equal(t, "-0.60", Money(-600_000).String())
}

func TestMoneyJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Cost Money `json:"cost"`
	}{Cost: 1_500_000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cost":"1.50"}`, string(b))

	var in struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"0.01","b":2.5}`), &in))
	assert.Equal(t, Money(10_000), in.A)
	assert.Equal(t, Money(2_500_000), in.B)
}
