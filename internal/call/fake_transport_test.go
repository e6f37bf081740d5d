package call

import (
	"context"
	"sync"
)

// fakeTransport records commands and lets tests emit events. With autoJoin
// or autoLeave set it completes Join/Leave synchronously like a fast
// transport would. Like the websocket transport, a Leave without a call it
// knows about does nothing.
type fakeTransport struct {
	mu      sync.Mutex
	subs    map[int]func(Event)
	nextSub int
	members []Participant
	levels  map[string]float64

	autoJoin  bool
	autoLeave bool
	// beforeJoin runs once at the start of the next Join, before the
	// attempt is registered.
	beforeJoin func()
	active     string

	joinErr   error
	leaveErr  error
	audioErr  error
	inputErr  error
	outputErr error

	joins      []JoinOptions
	leaves     int
	audio      []bool
	inputs     []string
	outputs    []string
	subscribes int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subs:      make(map[int]func(Event)),
		levels:    make(map[string]float64),
		autoJoin:  true,
		autoLeave: true,
		members:   []Participant{{SessionID: "self", DisplayName: "Road Captain", AudioEnabled: true, Local: true}},
	}
}

func (f *fakeTransport) Join(_ context.Context, opts JoinOptions) error {
	f.mu.Lock()
	hook := f.beforeJoin
	f.beforeJoin = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	f.joins = append(f.joins, opts)
	err, auto := f.joinErr, f.autoJoin
	if err == nil {
		f.active = opts.AttemptID
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if auto {
		f.emit(Event{Kind: EventJoined, AttemptID: opts.AttemptID})
	}
	return nil
}

func (f *fakeTransport) Leave(_ context.Context) error {
	f.mu.Lock()
	f.leaves++
	err, auto := f.leaveErr, f.autoLeave
	attempt := f.active
	if err == nil && auto {
		f.active = ""
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if auto && attempt != "" {
		f.emit(Event{Kind: EventLeft, AttemptID: attempt})
	}
	return nil
}

func (f *fakeTransport) SetLocalAudio(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.audioErr != nil {
		return f.audioErr
	}
	f.audio = append(f.audio, enabled)
	return nil
}

func (f *fakeTransport) SetInputDevice(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inputErr != nil {
		return f.inputErr
	}
	f.inputs = append(f.inputs, id)
	return nil
}

func (f *fakeTransport) SetOutputDevice(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outputErr != nil {
		return f.outputErr
	}
	f.outputs = append(f.outputs, id)
	return nil
}

func (f *fakeTransport) Participants() []Participant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Participant(nil), f.members...)
}

func (f *fakeTransport) AudioLevels() map[string]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]float64, len(f.levels))
	for k, v := range f.levels {
		out[k] = v
	}
	return out
}

func (f *fakeTransport) Subscribe(fn func(Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.subscribes++
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) emit(ev Event) {
	f.mu.Lock()
	fns := make([]func(Event), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeTransport) lastAttempt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.joins) == 0 {
		return ""
	}
	return f.joins[len(f.joins)-1].AttemptID
}

func (f *fakeTransport) inputList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inputs...)
}

func (f *fakeTransport) set(fn func(f *fakeTransport)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeTransport) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
