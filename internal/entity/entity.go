// Package entity exposes the external device entities the engine reads
// and commands, behind a Client interface so services stay testable.
package entity

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fluxopenhome/irrigation-core/internal/model"
)

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrUnavailable   = errors.New("entity unavailable")
)

// State is one entity snapshot as last published on the bus.
type State struct {
	EntityID   model.EntityRef        `json:"entity_id"`
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Available  bool                   `json:"available"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Float parses the state as a number.
func (s State) Float() (float64, error) {
	v := strings.TrimSpace(s.State)
	if v == "" || v == "unknown" || v == "unavailable" {
		return 0, ErrUnavailable
	}
	return strconv.ParseFloat(v, 64)
}

// IsOn reports whether a switch-like state is on. Valves report
// "open" instead of "on".
func (s State) IsOn() bool {
	return strings.EqualFold(s.State, "on") || strings.EqualFold(s.State, "open")
}

// Client is the surface the engine uses to talk to the device platform.
type Client interface {
	// ReadState returns the current state of ref.
	ReadState(ctx context.Context, ref model.EntityRef) (State, error)
	// CallService invokes action on ref with optional params, e.g.
	// CallService(ctx, ref, "turn_off", nil) or ("set_value", {"value": 12}).
	CallService(ctx context.Context, ref model.EntityRef, action string, params map[string]interface{}) error
	// DeviceEntities lists the enabled entities registered for a device.
	DeviceEntities(ctx context.Context, deviceID string) ([]State, error)
}
