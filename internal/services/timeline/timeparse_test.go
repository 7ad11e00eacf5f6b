package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheduleTime(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"06:00", 360},
		{"6:00", 360},
		{"00:00", 0},
		{"18:30", 1110},
		{"23:59", 1439},
		{"5:00 AM", 300},
		{"5:00AM", 300},
		{"5:00A", 300},
		{"5:00 PM", 1020},
		{"5:00PM", 1020},
		{"5:00P", 1020},
		{"12:00 AM", 0},
		{"12:15 AM", 15},
		{"12:00 PM", 720},
		{"12:30 PM", 750},
		{"  7:45 pm ", 1185},
		{"11:59 PM", 1439},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseScheduleTime(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseScheduleTimeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "noon", "25:00", "10:75", "13:00 PM", "0:30 AM", "6", "::"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseScheduleTime(in)
			assert.Error(t, err)
		})
	}
}
