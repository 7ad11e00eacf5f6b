package entity

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/fluxopenhome/irrigation-core/internal/model"
)

// Call records one service invocation made against the Fake.
type Call struct {
	Ref    model.EntityRef
	Action string
	Params map[string]interface{}
}

// Fake is an in-memory Client for tests. turn_on/turn_off/set_value
// mutate the stored state the way the real platform would.
type Fake struct {
	mu      sync.Mutex
	states  map[model.EntityRef]State
	devices map[string][]model.EntityRef
	Calls   []Call
	// FailCalls makes CallService return an error for the listed actions.
	FailCalls map[string]error
	// FailReads makes ReadState fail for the listed refs.
	FailReads map[model.EntityRef]error
}

func NewFake() *Fake {
	return &Fake{
		states:    make(map[model.EntityRef]State),
		devices:   make(map[string][]model.EntityRef),
		FailCalls: make(map[string]error),
		FailReads: make(map[model.EntityRef]error),
	}
}

// Set installs or replaces the state for ref.
func (f *Fake) Set(ref model.EntityRef, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.states[ref]
	st.EntityID = ref
	st.State = state
	st.Available = state != "unavailable"
	f.states[ref] = st
}

// SetFloat installs a numeric state.
func (f *Fake) SetFloat(ref model.EntityRef, v float64) {
	f.Set(ref, strconv.FormatFloat(v, 'f', -1, 64))
}

// SetAttrs replaces the attributes for ref.
func (f *Fake) SetAttrs(ref model.EntityRef, attrs map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.states[ref]
	st.EntityID = ref
	if st.State == "" {
		st.State = "unknown"
	}
	st.Available = true
	st.Attributes = attrs
	f.states[ref] = st
}

// AddDevice registers refs under deviceID for DeviceEntities.
func (f *Fake) AddDevice(deviceID string, refs ...model.EntityRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[deviceID] = append(f.devices[deviceID], refs...)
}

func (f *Fake) ReadState(ctx context.Context, ref model.EntityRef) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailReads[ref]; ok {
		return State{}, err
	}
	st, ok := f.states[ref]
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownEntity, ref)
	}
	if !st.Available {
		return st, fmt.Errorf("%w: %s", ErrUnavailable, ref)
	}
	return st, nil
}

func (f *Fake) CallService(ctx context.Context, ref model.EntityRef, action string, params map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Ref: ref, Action: action, Params: params})
	if err, ok := f.FailCalls[action]; ok {
		return err
	}
	st := f.states[ref]
	st.EntityID = ref
	st.Available = true
	switch action {
	case "turn_on":
		st.State = "on"
	case "turn_off":
		st.State = "off"
	case "set_value":
		if v, ok := params["value"]; ok {
			st.State = fmt.Sprintf("%v", v)
		}
	case "press":
		// stateless button, leave state alone
	}
	f.states[ref] = st
	return nil
}

func (f *Fake) DeviceEntities(ctx context.Context, deviceID string) ([]State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs, ok := f.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: no entities for device %s", ErrUnknownEntity, deviceID)
	}
	out := make([]State, 0, len(refs))
	for _, ref := range refs {
		if st, ok := f.states[ref]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

// CallsFor filters recorded calls by action.
func (f *Fake) CallsFor(action string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

var _ Client = (*Fake)(nil)
