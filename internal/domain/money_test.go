package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCents(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Cents
		wantErr bool
	}{
		{name: "whole amount", input: "10.00", want: 1000},
		{name: "no fraction", input: "25", want: 2500},
		{name: "one fractional digit", input: "0.5", want: 50},
		{name: "large amount", input: "2500.00", want: 250000},
		{name: "leading whitespace", input: " 10.00", want: 1000},
		{name: "zero", input: "0", wantErr: true},
		{name: "zero with fraction", input: "0.00", wantErr: true},
		{name: "negative", input: "-5.00", wantErr: true},
		{name: "sub-cent precision", input: "10.005", wantErr: true},
		{name: "not a number", input: "ten", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseCents(tc.input)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseBalance_AllowsZero(t *testing.T) {
	got, err := ParseBalance("0.00")
	require.NoError(t, err)
	assert.Equal(t, Cents(0), got)

	_, err = ParseBalance("-0.01")
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCentsString(t *testing.T) {
	assert.Equal(t, "10.00", Cents(1000).String())
	assert.Equal(t, "2490.00", Cents(249000).String())
	assert.Equal(t, "0.05", Cents(5).String())
	assert.Equal(t, "0.00", Cents(0).String())
}

func TestEntryRoundTrip(t *testing.T) {
	entries := []Entry{
		AccountProvisioned{TransactionID: "txn-0", Subscriber: "1042", OpeningBalance: 250000},
		FundsMoved{TransactionID: "txn-1", Source: "1042", Destination: "1043", Amount: 1000},
		TransferRejected{TransactionID: "txn-2", Source: "1042", Outcome: OutcomeInsufficientFunds, Reason: "insufficient funds"},
	}

	for _, entry := range entries {
		data, err := MarshalEntry(entry)
		require.NoError(t, err)

		decoded, err := UnmarshalEntry(data)
		require.NoError(t, err)
		assert.Equal(t, entry, decoded)
	}
}

func TestUnmarshalEntry_UnknownKind(t *testing.T) {
	_, err := UnmarshalEntry([]byte(`{"kind":"Bogus","data":{}}`))
	require.Error(t, err)
}
