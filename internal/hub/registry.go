package hub

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"highwayhub/voice/internal/log"
	"highwayhub/voice/internal/types"
)

const (
	sendQueueSize = 64
	writeTimeout  = 5 * time.Second
)

type member struct {
	info  types.Member
	level float64
	conn  *ws.Conn
	out   chan types.Message
}

func newMember(conn *ws.Conn, info types.Member) *member {
	return &member{info: info, conn: conn, out: make(chan types.Message, sendQueueSize)}
}

// send queues msg without blocking. A member that cannot keep up is
// disconnected rather than stalling the room.
func (m *member) send(msg types.Message) bool {
	select {
	case m.out <- msg:
		return true
	default:
		go m.conn.Close(ws.StatusPolicyViolation, "slow consumer")
		return false
	}
}

func (m *member) writeLoop(ctx context.Context, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, m.conn, msg)
			cancel()
			if err != nil {
				logger.Debug("Write failed", log.String("session", m.info.SessionID), log.Error(err))
				return
			}
			metricMessages.WithLabelValues("out", msg.Type).Inc()
		}
	}
}

// room holds the members of one voice room in join order and runs the
// level broadcaster while it is not empty.
type room struct {
	id      string
	mu      sync.Mutex
	members []*member
	stop    context.CancelFunc
}

func (r *room) snapshotLocked() []types.Member {
	out := make([]types.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.info)
	}
	return out
}

// broadcastLocked sends msg to every member except skip.
func (r *room) broadcastLocked(msg types.Message, skip string) {
	for _, m := range r.members {
		if m.info.SessionID != skip {
			m.send(msg)
		}
	}
}

// Registry keeps the live rooms of this hub.
type Registry struct {
	clock    clockwork.Clock
	interval time.Duration
	logger   *log.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

func NewRegistry(clock clockwork.Clock, levelInterval time.Duration, logger *log.Logger) *Registry {
	return &Registry{
		clock:    clock,
		interval: levelInterval,
		logger:   logger,
		rooms:    make(map[string]*room),
	}
}

// add puts m into the room, creating the room and its broadcaster on the
// first member. m gets its joined message before anything else the room
// sends it.
func (g *Registry) add(roomID string, m *member, now int64) *room {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	if !ok {
		r = &room{id: roomID}
		g.rooms[roomID] = r
		metricRooms.Set(float64(len(g.rooms)))
	}
	r.mu.Lock()
	g.mu.Unlock()
	defer r.mu.Unlock()

	r.members = append(r.members, m)
	metricConnections.Inc()
	if r.stop == nil {
		ctx, cancel := context.WithCancel(context.Background())
		r.stop = cancel
		go g.broadcastLevels(ctx, r)
	}
	members := r.snapshotLocked()
	m.send(types.Message{
		Type:      types.MsgJoined,
		TsMs:      now,
		SessionID: m.info.SessionID,
		Members:   members,
	})
	r.broadcastLocked(types.Message{
		Type:      types.MsgParticipantJoined,
		TsMs:      now,
		SessionID: m.info.SessionID,
		Members:   members,
	}, m.info.SessionID)
	return r
}

// remove drops m from the room and deletes the room once it is empty.
func (g *Registry) remove(r *room, m *member, now int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, x := range r.members {
		if x == m {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	r.members = append(r.members[:idx], r.members[idx+1:]...)
	metricConnections.Dec()
	r.broadcastLocked(types.Message{
		Type:      types.MsgParticipantLeft,
		TsMs:      now,
		SessionID: m.info.SessionID,
		Members:   r.snapshotLocked(),
	}, "")

	if len(r.members) == 0 {
		if r.stop != nil {
			r.stop()
			r.stop = nil
		}
		if g.rooms[r.id] == r {
			delete(g.rooms, r.id)
		}
		metricRooms.Set(float64(len(g.rooms)))
	}
	return true
}

// Members returns the current members of roomID in join order.
func (g *Registry) Members(roomID string) []types.Member {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	g.mu.Unlock()
	if !ok {
		return []types.Member{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (g *Registry) broadcastLevels(ctx context.Context, r *room) {
	ticker := g.clock.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.mu.Lock()
			levels := make(map[string]float64, len(r.members))
			for _, m := range r.members {
				levels[m.info.SessionID] = m.level
			}
			r.broadcastLocked(types.Message{
				Type:   types.MsgAudioLevels,
				TsMs:   g.clock.Now().UnixMilli(),
				Levels: levels,
			}, "")
			r.mu.Unlock()
		}
	}
}

// closeAll disconnects every member, used on shutdown.
func (g *Registry) closeAll(reason string) {
	g.mu.Lock()
	rooms := make([]*room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	var conns []*ws.Conn
	for _, r := range rooms {
		r.mu.Lock()
		for _, m := range r.members {
			conns = append(conns, m.conn)
		}
		r.mu.Unlock()
	}
	for _, c := range conns {
		_ = c.Close(ws.StatusGoingAway, reason)
	}
}
