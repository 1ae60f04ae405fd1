package signature

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsFresh(t *testing.T) {
	const now = int64(1767225900)

	tests := []struct {
		name    string
		claimed int64
		now     int64
		window  int64
		want    bool
	}{
		{name: "exact now", claimed: now, now: now, window: 300, want: true},
		{name: "past boundary accepted", claimed: now - 300, now: now, window: 300, want: true},
		{name: "past boundary plus one rejected", claimed: now - 301, now: now, window: 300, want: false},
		{name: "future boundary accepted", claimed: now + 300, now: now, window: 300, want: true},
		{name: "future boundary plus one rejected", claimed: now + 301, now: now, window: 300, want: false},
		{name: "zero window only exact", claimed: now, now: now, window: 0, want: true},
		{name: "zero window off by one", claimed: now - 1, now: now, window: 0, want: false},
		{name: "negative window rejects", claimed: now, now: now, window: -1, want: false},
		{name: "extreme past", claimed: math.MinInt64, now: now, window: 300, want: false},
		{name: "extreme future", claimed: math.MaxInt64, now: math.MinInt64, window: math.MaxInt64, want: false},
		{name: "claimed zero", claimed: 0, now: now, window: 300, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsFresh(tt.claimed, tt.now, tt.window))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{raw: "1767225900", want: 1767225900},
		{raw: " 1767225900 ", want: 1767225900},
		{raw: "-5", want: -5},
		{raw: "", wantErr: true},
		{raw: "   ", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "1767225900.5", wantErr: true},
		{raw: "99999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTimestamp(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
