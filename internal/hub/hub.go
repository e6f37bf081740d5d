package hub

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"highwayhub/voice/internal/auth"
	interr "highwayhub/voice/internal/errors"
	"highwayhub/voice/internal/log"
	"highwayhub/voice/internal/store"
	"highwayhub/voice/internal/types"
)

// Verifier checks a join token for a room.
type Verifier interface {
	Verify(token, roomID string) (*auth.Claims, error)
}

type Options struct {
	// OriginPatterns are passed to websocket.Accept. Empty allows same
	// origin only; clients without an Origin header are always accepted.
	OriginPatterns []string
	ReadLimit      int64
}

// Hub is the server side of the voice transport: it admits token holders to
// rooms, relays membership and mute changes and broadcasts audio levels.
type Hub struct {
	verifier Verifier
	registry *Registry
	events   *store.EventLog
	clock    clockwork.Clock
	logger   *log.Logger
	opts     Options
}

func New(verifier Verifier, registry *Registry, events *store.EventLog, clock clockwork.Clock, logger *log.Logger, opts Options) *Hub {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32 << 10
	}
	return &Hub{
		verifier: verifier,
		registry: registry,
		events:   events,
		clock:    clock,
		logger:   logger,
		opts:     opts,
	}
}

func (h *Hub) Members(roomID string) []types.Member {
	return h.registry.Members(roomID)
}

// Shutdown disconnects every member with a going-away status.
func (h *Hub) Shutdown() {
	h.registry.closeAll("server shutting down")
}

func (h *Hub) now() int64 { return h.clock.Now().UnixMilli() }

// ServeWS upgrades r to a room connection after checking the join token in
// the token query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, roomID string) {
	claims, err := h.verifier.Verify(r.URL.Query().Get("token"), roomID)
	if err != nil {
		status, reason := rejectStatus(err)
		metricRejected.WithLabelValues(reason).Inc()
		h.logger.Info("Rejected room join", log.String("room", roomID), log.Error(err))
		http.Error(w, reason, status)
		return
	}

	c, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		h.logger.Warn("Websocket accept failed", log.Error(err))
		return
	}
	c.SetReadLimit(h.opts.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	m := newMember(c, types.Member{
		SessionID:    uuid.NewString(),
		DisplayName:  claims.DisplayName,
		UserID:       claims.UserID,
		AudioEnabled: true,
		IsOwner:      claims.IsOwner,
	})
	logger := h.logger.With(log.String("room", roomID), log.String("session", m.info.SessionID))

	rm := h.registry.add(roomID, m, h.now())
	h.events.Append(roomID, "participant_joined", map[string]any{
		"session_id": m.info.SessionID,
		"user_id":    m.info.UserID,
	})
	logger.Info("Member joined", log.String("user", m.info.UserID))

	go m.writeLoop(ctx, h.logger)

	reason := h.readLoop(ctx, rm, m, logger)

	if h.registry.remove(rm, m, h.now()) {
		h.events.Append(roomID, "participant_left", map[string]any{
			"session_id": m.info.SessionID,
			"reason":     reason,
		})
	}
	_ = c.Close(ws.StatusNormalClosure, reason)
	logger.Info("Member left", log.String("reason", reason))
}

// readLoop handles client messages until the client leaves or the
// connection drops, and returns why it stopped.
func (h *Hub) readLoop(ctx context.Context, rm *room, m *member, logger *log.Logger) string {
	for {
		var msg types.Message
		if err := wsjson.Read(ctx, m.conn, &msg); err != nil {
			if ws.CloseStatus(err) == ws.StatusNormalClosure || ws.CloseStatus(err) == ws.StatusGoingAway {
				return "closed"
			}
			logger.Debug("Read ended", log.Error(err))
			return "disconnected"
		}
		metricMessages.WithLabelValues("in", msg.Type).Inc()

		switch msg.Type {
		case types.MsgSetAudio:
			if msg.Enabled == nil {
				m.send(h.errorMsg(msg.CommandID, "enabled is required"))
				continue
			}
			h.setAudio(rm, m, msg.CommandID, *msg.Enabled)
		case types.MsgSetDevice:
			// Devices are local to the client; the hub only confirms.
			m.send(types.Message{Type: types.MsgAck, TsMs: h.now(), CommandID: msg.CommandID})
		case types.MsgLevel:
			rm.mu.Lock()
			m.level = clamp01(msg.Level)
			rm.mu.Unlock()
		case types.MsgLeave:
			if h.registry.remove(rm, m, h.now()) {
				h.events.Append(rm.id, "participant_left", map[string]any{
					"session_id": m.info.SessionID,
					"reason":     "leave",
				})
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			_ = wsjson.Write(wctx, m.conn, types.Message{Type: types.MsgLeft, TsMs: h.now(), SessionID: m.info.SessionID})
			cancel()
			return "leave"
		default:
			m.send(h.errorMsg(msg.CommandID, "unknown message type "+msg.Type))
		}
	}
}

func (h *Hub) setAudio(rm *room, m *member, commandID string, enabled bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	m.info.AudioEnabled = enabled
	m.send(types.Message{Type: types.MsgAck, TsMs: h.now(), CommandID: commandID})
	rm.broadcastLocked(types.Message{
		Type:      types.MsgParticipantUpdated,
		TsMs:      h.now(),
		SessionID: m.info.SessionID,
		Members:   rm.snapshotLocked(),
	}, "")
}

func (h *Hub) errorMsg(commandID, text string) types.Message {
	return types.Message{Type: types.MsgError, TsMs: h.now(), CommandID: commandID, Error: text}
}

func rejectStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrNoToken):
		return http.StatusUnauthorized, "missing token"
	case errors.Is(err, auth.ErrTokenReused):
		return http.StatusForbidden, "token already used"
	case errors.Is(err, auth.ErrRoomMismatch):
		return http.StatusForbidden, "token not valid for this room"
	case interr.CodeOf(err) == auth.ErrInvalidToken:
		return http.StatusUnauthorized, "invalid token"
	default:
		return http.StatusUnauthorized, "unauthorized"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
