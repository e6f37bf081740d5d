// Package ws is the client side of the room hub protocol. It implements
// call.Transport over a single websocket per call.
package ws

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"highwayhub/voice/internal/call"
	"highwayhub/voice/internal/errors"
	"highwayhub/voice/internal/log"
	"highwayhub/voice/internal/types"
)

const (
	ErrBusy         errors.Code = "transport already has a call"
	ErrDial         errors.Code = "could not connect to room"
	ErrNotConnected errors.Code = "transport not connected"
	ErrClosed       errors.Code = "transport closed"
	ErrCommand      errors.Code = "room rejected command"
	ErrTimeout      errors.Code = "room command timed out"
)

const levelWriteTimeout = time.Second

// Transport connects one call at a time to a room hub.
type Transport struct {
	logger *log.Logger
	clock  clockwork.Clock

	mu         sync.Mutex
	attempt    string
	cancelDial context.CancelFunc
	conn       *websocket.Conn
	done       chan struct{}
	leaving    bool
	sessionID  string
	members    []types.Member
	levels     map[string]float64
	pending    map[string]chan types.Message

	subMu   sync.Mutex
	subs    map[int]func(call.Event)
	nextSub int
}

var _ call.Transport = (*Transport)(nil)

func New(logger *log.Logger, clock clockwork.Clock) *Transport {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Transport{
		logger:  logger,
		clock:   clock,
		levels:  make(map[string]float64),
		pending: make(map[string]chan types.Message),
		subs:    make(map[int]func(call.Event)),
	}
}

// Join dials the room. It returns once the websocket is open; the hub's
// joined message arrives later as call.EventJoined.
func (t *Transport) Join(ctx context.Context, opts call.JoinOptions) error {
	target, err := roomURL(opts.URL, opts.Token)
	if err != nil {
		return errors.Wrap(ErrDial, err, "room url")
	}

	t.mu.Lock()
	if t.attempt != "" {
		t.mu.Unlock()
		return errors.New(ErrBusy, "leave the current call first")
	}
	dialCtx, cancel := context.WithCancel(ctx)
	t.attempt = opts.AttemptID
	t.cancelDial = cancel
	t.mu.Unlock()

	t.logger.Debug("Dialing room", log.String("attempt", opts.AttemptID))
	conn, _, err := websocket.Dial(dialCtx, target, nil)
	cancel()

	t.mu.Lock()
	if t.attempt != opts.AttemptID {
		// Leave ran while we were dialing and already reported left.
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "left")
		}
		return errors.New(ErrClosed, "left while connecting")
	}
	if err != nil {
		t.resetLocked()
		t.mu.Unlock()
		return errors.Wrap(ErrDial, err, "dial room")
	}
	t.conn = conn
	t.cancelDial = nil
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	go t.readLoop(conn, opts.AttemptID, done)
	return nil
}

// Leave ends the call. A dial in progress is canceled and reported as left
// right away; otherwise left is reported when the hub confirms.
func (t *Transport) Leave(ctx context.Context) error {
	t.mu.Lock()
	attempt := t.attempt
	if attempt == "" {
		t.mu.Unlock()
		return nil
	}
	if t.conn == nil {
		t.cancelDial()
		t.resetLocked()
		t.mu.Unlock()
		t.emit(call.Event{Kind: call.EventLeft, AttemptID: attempt})
		return nil
	}
	conn, done := t.conn, t.done
	t.leaving = true
	t.mu.Unlock()

	if err := wsjson.Write(ctx, conn, types.Message{Type: types.MsgLeave, TsMs: t.now()}); err != nil {
		// Closing the socket ends the call just as well.
		t.logger.Warn("Leave message not sent", log.Error(err))
		_ = conn.Close(websocket.StatusNormalClosure, "leave")
		<-done
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// The hub did not confirm in time; the read loop reports left
		// once the socket is closed.
		_ = conn.Close(websocket.StatusNormalClosure, "leave")
		<-done
		return nil
	}
}

func (t *Transport) SetLocalAudio(ctx context.Context, enabled bool) error {
	return t.command(ctx, types.Message{Type: types.MsgSetAudio, Enabled: &enabled})
}

func (t *Transport) SetInputDevice(ctx context.Context, deviceID string) error {
	return t.command(ctx, types.Message{Type: types.MsgSetDevice, Kind: string(call.DeviceInput), DeviceID: deviceID})
}

func (t *Transport) SetOutputDevice(ctx context.Context, deviceID string) error {
	return t.command(ctx, types.Message{Type: types.MsgSetDevice, Kind: string(call.DeviceOutput), DeviceID: deviceID})
}

// ReportLevel publishes the local microphone level, 0..1, to the room.
func (t *Transport) ReportLevel(level float64) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New(ErrNotConnected, "no room connection")
	}
	ctx, cancel := context.WithTimeout(context.Background(), levelWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, types.Message{Type: types.MsgLevel, TsMs: t.now(), Level: level})
}

func (t *Transport) Participants() []call.Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]call.Participant, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, call.Participant{
			SessionID:    m.SessionID,
			DisplayName:  m.DisplayName,
			AudioEnabled: m.AudioEnabled,
			Local:        m.SessionID == t.sessionID,
		})
	}
	return out
}

func (t *Transport) AudioLevels() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.levels))
	for k, v := range t.levels {
		out[k] = v
	}
	return out
}

func (t *Transport) Subscribe(fn func(call.Event)) func() {
	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		delete(t.subs, id)
		t.subMu.Unlock()
	}
}

func (t *Transport) emit(ev call.Event) {
	t.subMu.Lock()
	fns := make([]func(call.Event), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (t *Transport) now() int64 { return t.clock.Now().UnixMilli() }

// resetLocked forgets the current call and fails pending commands.
func (t *Transport) resetLocked() {
	t.attempt = ""
	t.cancelDial = nil
	t.conn = nil
	t.done = nil
	t.leaving = false
	t.sessionID = ""
	t.members = nil
	t.levels = make(map[string]float64)
	for id, ch := range t.pending {
		ch <- types.Message{Type: types.MsgError, CommandID: id, Error: "connection closed"}
		delete(t.pending, id)
	}
}

func roomURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// command sends msg with a fresh command id and waits for the hub's ack.
func (t *Transport) command(ctx context.Context, msg types.Message) error {
	id := uuid.NewString()
	reply := make(chan types.Message, 1)

	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return errors.New(ErrNotConnected, "no room connection")
	}
	t.pending[id] = reply
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	msg.CommandID = id
	msg.TsMs = t.now()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		metricCommands.WithLabelValues(msg.Type, "write_error").Inc()
		return errors.Wrapf(ErrClosed, err, "send %s", msg.Type)
	}

	select {
	case r := <-reply:
		if r.Type == types.MsgError {
			metricCommands.WithLabelValues(msg.Type, "rejected").Inc()
			return errors.Newf(ErrCommand, "%s: %s", msg.Type, r.Error)
		}
		metricCommands.WithLabelValues(msg.Type, "ok").Inc()
		return nil
	case <-ctx.Done():
		metricCommands.WithLabelValues(msg.Type, "timeout").Inc()
		return errors.Wrapf(ErrTimeout, ctx.Err(), "%s", msg.Type)
	}
}

func (t *Transport) readLoop(conn *websocket.Conn, attempt string, done chan struct{}) {
	defer close(done)
	ctx := context.Background()
	for {
		var msg types.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.connectionLost(attempt, err)
			return
		}

		switch msg.Type {
		case types.MsgJoined:
			t.mu.Lock()
			t.sessionID = msg.SessionID
			t.members = msg.Members
			t.mu.Unlock()
			t.logger.Info("Joined room", log.String("session", msg.SessionID), log.Int("members", len(msg.Members)))
			t.emit(call.Event{Kind: call.EventJoined, AttemptID: attempt})
		case types.MsgParticipantJoined, types.MsgParticipantUpdated, types.MsgParticipantLeft:
			t.mu.Lock()
			t.members = msg.Members
			t.mu.Unlock()
			t.emit(call.Event{Kind: call.EventKind(msg.Type), AttemptID: attempt})
		case types.MsgAudioLevels:
			t.mu.Lock()
			t.levels = msg.Levels
			if t.levels == nil {
				t.levels = make(map[string]float64)
			}
			t.mu.Unlock()
		case types.MsgAck, types.MsgError:
			t.mu.Lock()
			ch, ok := t.pending[msg.CommandID]
			if ok {
				delete(t.pending, msg.CommandID)
			}
			t.mu.Unlock()
			if ok {
				ch <- msg
			} else if msg.Type == types.MsgError {
				t.logger.Warn("Room error", log.String("error", msg.Error))
			}
		case types.MsgLeft:
			t.mu.Lock()
			t.resetLocked()
			t.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "")
			t.emit(call.Event{Kind: call.EventLeft, AttemptID: attempt})
			return
		default:
			t.logger.Debug("Ignoring room message", log.String("type", msg.Type))
		}
	}
}

// connectionLost maps a dropped socket to a call event. A close we asked
// for, or a clean close by the hub, is a left; anything else is an error.
func (t *Transport) connectionLost(attempt string, err error) {
	t.mu.Lock()
	if t.attempt != attempt {
		t.mu.Unlock()
		return
	}
	leaving := t.leaving
	t.resetLocked()
	t.mu.Unlock()

	status := websocket.CloseStatus(err)
	if leaving || status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		t.logger.Info("Room connection closed", log.Bool("requested", leaving), log.Int("status", int(status)))
		t.emit(call.Event{Kind: call.EventLeft, AttemptID: attempt})
		return
	}
	t.logger.Warn("Room connection lost", log.Error(err))
	t.emit(call.Event{Kind: call.EventError, AttemptID: attempt, Err: errors.Wrap(ErrClosed, err, "read")})
}
