package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsOn(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{"on", true},
		{"ON", true},
		{"open", true}, // valve zones
		{"Open", true},
		{"off", false},
		{"closed", false},
		{"unavailable", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, State{State: tt.state}.IsOn(), "state=%q", tt.state)
	}
}

func TestFloat(t *testing.T) {
	v, err := State{State: "47.5"}.Float()
	assert.NoError(t, err)
	assert.Equal(t, 47.5, v)

	_, err = State{State: "unknown"}.Float()
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = State{State: "unavailable"}.Float()
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = State{State: ""}.Float()
	assert.ErrorIs(t, err, ErrUnavailable)
}
