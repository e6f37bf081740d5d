package call

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"highwayhub/voice/internal/log"
)

const (
	defaultLevelInterval  = 200 * time.Millisecond
	defaultControlTimeout = 5 * time.Second
)

type Options struct {
	DisplayName string
	IsOwner     bool
	// LevelInterval is how often audio levels are sampled while joined.
	LevelInterval time.Duration
	// LevelThreshold is the level rendered at full intensity.
	LevelThreshold float64
	// ControlTimeout bounds device calls the controller issues on its own,
	// such as applying a staged output device right after joining.
	ControlTimeout time.Duration
	Clock          clockwork.Clock
	Logger         *log.Logger
	Notifier       Notifier
}

// Controller owns one voice call end to end: provisioning, the transport
// join/leave lifecycle, membership, audio levels, mute and device selection.
// A process should hold one Controller per Transport.
type Controller struct {
	transport   Transport
	provisioner Provisioner
	devices     DeviceSource
	notifier    Notifier
	clock       clockwork.Clock
	logger      *log.Logger
	opts        Options

	initOnce sync.Once
	relMu    sync.Mutex
	releases []func()

	mu            sync.Mutex
	seq           uint64
	state         State
	attemptID     string
	cancelJoin    context.CancelFunc
	roomURL       string
	token         string
	started       bool
	participants  map[string]Participant
	levels        map[string]float64
	levelsAt      time.Time
	muted         bool
	micPermission bool
	inputDevices  []Device
	outputDevices []Device
	input         Selection
	output        Selection
	stopSampler   context.CancelFunc

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	// pubMu serializes deliveries; published is the last Seq delivered.
	pubMu     sync.Mutex
	published uint64
}

// New creates a controller in the idle state. devices may be nil on hosts
// without device enumeration.
func New(transport Transport, provisioner Provisioner, devices DeviceSource, opts Options) *Controller {
	if transport == nil || provisioner == nil {
		panic("transport and provisioner are required")
	}
	if opts.LevelInterval <= 0 {
		opts.LevelInterval = defaultLevelInterval
	}
	if opts.LevelThreshold <= 0 {
		opts.LevelThreshold = DefaultLevelThreshold
	}
	if opts.ControlTimeout <= 0 {
		opts.ControlTimeout = defaultControlTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}

	return &Controller{
		transport:    transport,
		provisioner:  provisioner,
		devices:      devices,
		notifier:     opts.Notifier,
		clock:        opts.Clock,
		logger:       opts.Logger,
		opts:         opts,
		state:        StateIdle,
		participants: make(map[string]Participant),
		levels:       make(map[string]float64),
		input:        defaultSelection(),
		output:       defaultSelection(),
		subs:         make(map[int]func(Snapshot)),
	}
}

// Initialize subscribes to transport events, asks for microphone permission
// once and enumerates devices. Calling it again is a no-op. Permission or
// enumeration failures are not fatal: device lists simply stay empty.
func (c *Controller) Initialize(ctx context.Context) {
	c.initOnce.Do(func() {
		c.acquire(c.transport.Subscribe(c.handleEvent))

		if c.devices == nil {
			return
		}

		if err := c.devices.RequestPermission(ctx); err != nil {
			c.logger.Warn("Microphone permission not granted", log.Error(err))
			c.notify(NotifyWarning, "Microphone access was not granted; device selection is unavailable", err)
		} else {
			c.mu.Lock()
			c.micPermission = true
			c.mu.Unlock()
			c.refreshDevices(ctx)
		}

		stop, err := c.devices.Watch(c.onDeviceListChanged)
		if err != nil {
			c.logger.Warn("Device change notifications unavailable", log.Error(err))
			return
		}
		c.acquire(stop)
	})
}

// Close releases everything Initialize acquired and stops the level
// sampler. The transport itself and any live call are left untouched.
func (c *Controller) Close() {
	c.relMu.Lock()
	releases := c.releases
	c.releases = nil
	c.relMu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}

	c.mu.Lock()
	c.stopSamplerLocked()
	c.mu.Unlock()
}

func (c *Controller) acquire(release func()) {
	if release == nil {
		return
	}
	c.relMu.Lock()
	c.releases = append(c.releases, release)
	c.relMu.Unlock()
}

// Subscribe registers fn for state snapshots. fn runs on the goroutine that
// caused the change, one delivery at a time with Seq strictly increasing. It
// must not block or call the controller's commands; Snapshot is fine.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) snapshotLocked() Snapshot {
	participants := make(map[string]Participant, len(c.participants))
	for k, v := range c.participants {
		participants[k] = v
	}
	levels := make(map[string]float64, len(c.levels))
	for k, v := range c.levels {
		levels[k] = v
	}
	return Snapshot{
		Seq:           c.seq,
		State:         c.state,
		RoomURL:       c.roomURL,
		Participants:  participants,
		Levels:        levels,
		LevelsAt:      c.levelsAt,
		Threshold:     c.opts.LevelThreshold,
		Muted:         c.muted,
		MicPermission: c.micPermission,
		InputDevices:  append([]Device(nil), c.inputDevices...),
		OutputDevices: append([]Device(nil), c.outputDevices...),
		Input:         c.input,
		Output:        c.output,
	}
}

// update runs fn under the state lock and publishes a snapshot afterwards
// when fn reports a change.
func (c *Controller) update(fn func() bool) {
	c.mu.Lock()
	changed := fn()
	var snap Snapshot
	if changed {
		c.seq++
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()

	if changed {
		c.publish(snap)
	}
}

// publish delivers snap unless a newer snapshot went out first, which
// happens when two goroutines change state back to back.
func (c *Controller) publish(snap Snapshot) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if snap.Seq <= c.published {
		return
	}
	c.published = snap.Seq

	c.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (c *Controller) notify(level NotificationLevel, msg string, err error) {
	c.notifier.Notify(Notification{Level: level, Message: msg, Err: err})
}

// setStateLocked applies a transition and its side effects: the sampler runs
// exactly while joined, and a finished attempt forgets its session data.
func (c *Controller) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	metricStateTransitions.WithLabelValues(string(from), string(to)).Inc()
	c.logger.Debug("Call state changed",
		log.String("from", string(from)),
		log.String("to", string(to)),
		log.String("attempt", c.attemptID))

	if from == StateJoined {
		c.stopSamplerLocked()
	}
	switch to {
	case StateJoined:
		c.startSamplerLocked()
	case StateIdle, StateLeft:
		c.clearSessionLocked()
	}
}

// guardLocked reports whether a completion for attempt that expects the
// call to be in one of states still applies.
func (c *Controller) guardLocked(attempt string, states ...State) bool {
	if attempt != "" && attempt == c.attemptID {
		for _, s := range states {
			if c.state == s {
				return true
			}
		}
	}
	metricStaleCompletions.Inc()
	c.logger.Debug("Dropping stale completion",
		log.String("attempt", attempt),
		log.String("current", c.attemptID),
		log.String("state", string(c.state)))
	return false
}

func (c *Controller) clearSessionLocked() {
	c.attemptID = ""
	c.cancelJoin = nil
	c.roomURL = ""
	c.token = ""
	c.started = false
	c.muted = false
	c.participants = make(map[string]Participant)
	c.levels = make(map[string]float64)
	c.levelsAt = time.Time{}
	c.input.Confirmed = DefaultDevice
	c.output.Confirmed = DefaultDevice
	metricParticipants.Set(0)
}
