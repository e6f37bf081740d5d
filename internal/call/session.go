package call

import (
	"context"
	"errors"

	"github.com/google/uuid"

	interr "highwayhub/voice/internal/errors"
	"highwayhub/voice/internal/log"
)

// Join starts a new call from idle or left. It returns once the transport
// has accepted the join; EventJoined moves the call to joined. A Join while
// another attempt is in flight is rejected without provisioning anything.
func (c *Controller) Join(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var attempt string
	var rejected error
	c.update(func() bool {
		if c.state != StateIdle && c.state != StateLeft {
			rejected = interr.Newf(ErrInvalidState, "cannot join while %s", c.state)
			return false
		}
		attempt = uuid.NewString()
		c.attemptID = attempt
		c.cancelJoin = cancel
		c.setStateLocked(StateJoining)
		return true
	})
	if rejected != nil {
		return rejected
	}

	c.logger.Info("Joining call", log.String("attempt", attempt))

	roomID, err := c.provisioner.RequestRoom(ctx)
	if err != nil {
		return c.failJoin(attempt, "room", interr.Wrap(ErrProvisioning, err, "request room"))
	}
	cred, err := c.provisioner.RequestCredential(ctx, CredentialRequest{
		RoomID:      roomID,
		DisplayName: c.opts.DisplayName,
		IsOwner:     c.opts.IsOwner,
	})
	if err != nil {
		return c.failJoin(attempt, "credential", interr.Wrap(ErrProvisioning, err, "request credential"))
	}

	var opts JoinOptions
	var canceled bool
	c.update(func() bool {
		if !c.guardLocked(attempt, StateJoining) {
			canceled = true
			return false
		}
		c.roomURL = cred.RoomURL
		c.token = cred.Token
		c.started = true
		opts = JoinOptions{AttemptID: attempt, URL: cred.RoomURL, Token: cred.Token}
		if c.input.Staged != DefaultDevice {
			opts.InputDeviceID = c.input.Staged
		}
		return true
	})
	if canceled {
		return interr.New(ErrCanceled, "call left before the transport join started")
	}

	err = c.transport.Join(ctx, opts)
	if c.finishLeaveDuringJoin(ctx, attempt, err) {
		return interr.New(ErrCanceled, "call left while the transport was joining")
	}
	if err != nil {
		return c.failJoin(attempt, "transport", interr.Wrap(ErrTransport, err, "join"))
	}
	return nil
}

// finishLeaveDuringJoin handles a Leave that arrived after the transport
// join started but before the transport knew about the attempt. Such a Leave
// found nothing to tear down, so the call is still leaving: a failed join
// simply ends as left, a successful one is left again now.
func (c *Controller) finishLeaveDuringJoin(ctx context.Context, attempt string, joinErr error) bool {
	var leaving bool
	c.update(func() bool {
		if c.attemptID != attempt || c.state != StateLeaving {
			return false
		}
		leaving = true
		if joinErr != nil {
			c.setStateLocked(StateLeft)
			return true
		}
		return false
	})
	if !leaving {
		return false
	}
	if joinErr == nil {
		c.logger.Info("Leaving call joined after leave", log.String("attempt", attempt))
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ControlTimeout)
		defer cancel()
		_ = c.leaveTransport(lctx, attempt)
	}
	return true
}

// failJoin resolves a failed join step back to idle. A failure that
// arrives after the user already left only reports the cancellation.
func (c *Controller) failJoin(attempt, stage string, err error) error {
	var applied bool
	c.update(func() bool {
		if !c.guardLocked(attempt, StateJoining) {
			return false
		}
		c.setStateLocked(StateIdle)
		applied = true
		return true
	})
	if !applied {
		return interr.Wrap(ErrCanceled, err, "join failed after cancel")
	}

	metricJoinFailures.WithLabelValues(stage).Inc()
	c.logger.Warn("Join failed", log.String("stage", stage), log.Error(err))
	c.notify(NotifyError, "Could not join the voice channel", err)
	return err
}

// Leave ends the current call, or cancels a join in flight. EventLeft moves
// the call to left.
func (c *Controller) Leave(ctx context.Context) error {
	var attempt string
	var started bool
	var cancelJoin context.CancelFunc
	var rejected error
	c.update(func() bool {
		if c.state != StateJoined && c.state != StateJoining {
			rejected = interr.Newf(ErrInvalidState, "cannot leave while %s", c.state)
			return false
		}
		attempt = c.attemptID
		started = c.started
		cancelJoin = c.cancelJoin
		c.setStateLocked(StateLeaving)
		if !started {
			// Still provisioning: nothing to tear down on the transport.
			c.setStateLocked(StateLeft)
		}
		return true
	})
	if rejected != nil {
		return rejected
	}
	if !started {
		if cancelJoin != nil {
			cancelJoin()
		}
		c.logger.Info("Join canceled before transport join", log.String("attempt", attempt))
		return nil
	}

	c.logger.Info("Leaving call", log.String("attempt", attempt))
	return c.leaveTransport(ctx, attempt)
}

// leaveTransport asks the transport to end attempt. EventLeft completes the
// leave; a failed request resolves the call to idle.
func (c *Controller) leaveTransport(ctx context.Context, attempt string) error {
	if err := c.transport.Leave(ctx); err != nil {
		err = interr.Wrap(ErrTransport, err, "leave")
		var applied bool
		c.update(func() bool {
			if !c.guardLocked(attempt, StateLeaving) {
				return false
			}
			c.setStateLocked(StateIdle)
			applied = true
			return true
		})
		if applied {
			c.logger.Warn("Leave failed", log.Error(err))
			c.notify(NotifyError, "Could not leave the voice channel cleanly", err)
		}
		return err
	}
	return nil
}

// ToggleMute sets the local microphone mute. The displayed flag changes only
// after the transport confirmed the change.
func (c *Controller) ToggleMute(ctx context.Context, muted bool) error {
	c.mu.Lock()
	if c.state != StateJoined {
		c.mu.Unlock()
		return interr.New(ErrNoSession, "mute needs a joined call")
	}
	attempt := c.attemptID
	c.mu.Unlock()

	if err := c.transport.SetLocalAudio(ctx, !muted); err != nil {
		metricControlFailures.WithLabelValues("mute").Inc()
		err = interr.Wrap(ErrDeviceControl, err, "set local audio")
		c.logger.Warn("Mute toggle failed", log.Bool("muted", muted), log.Error(err))
		c.notify(NotifyError, "Could not change microphone mute", err)
		return err
	}

	c.update(func() bool {
		if !c.guardLocked(attempt, StateJoined) {
			return false
		}
		c.muted = muted
		return true
	})
	return nil
}

func (c *Controller) handleEvent(ev Event) {
	switch ev.Kind {
	case EventJoined:
		c.onJoined(ev)
	case EventLeft:
		c.onLeft(ev)
	case EventError:
		c.onTransportError(ev)
	case EventParticipantJoined, EventParticipantUpdated, EventParticipantLeft:
		c.onParticipantEvent(ev)
	case EventAudioLevels:
		c.onAudioLevelSample(ev.AttemptID, ev.Levels)
	default:
		c.logger.Debug("Ignoring transport event", log.String("kind", string(ev.Kind)))
	}
}

func (c *Controller) onJoined(ev Event) {
	members := c.transport.Participants()

	var inputFollowUp, outputFollowUp string
	var applied bool
	c.update(func() bool {
		if !c.guardLocked(ev.AttemptID, StateJoining) {
			return false
		}
		c.setStateLocked(StateJoined)
		c.replaceParticipantsLocked(members)
		// The input is confirmed only once the transport acks it, even if
		// it was passed along with the join.
		if c.input.Staged != DefaultDevice {
			inputFollowUp = c.input.Staged
		}
		if c.output.Staged != DefaultDevice {
			outputFollowUp = c.output.Staged
		}
		applied = true
		return true
	})
	if !applied {
		return
	}

	c.logger.Info("Joined call",
		log.String("attempt", ev.AttemptID),
		log.Int("participants", len(members)))

	if inputFollowUp != "" || outputFollowUp != "" {
		go c.applyStagedDevices(ev.AttemptID, inputFollowUp, outputFollowUp)
	}
}

func (c *Controller) applyStagedDevices(attempt, input, output string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ControlTimeout)
	defer cancel()

	if input != "" {
		c.applyDevice(ctx, attempt, DeviceInput, input)
	}
	if output != "" {
		c.applyDevice(ctx, attempt, DeviceOutput, output)
	}
}

func (c *Controller) onLeft(ev Event) {
	var from State
	c.update(func() bool {
		if ev.AttemptID != "" && ev.AttemptID == c.attemptID &&
			(c.state == StateJoined || c.state == StateJoining) {
			// The transport ended the attempt without a Leave from us.
			from = c.state
			c.setStateLocked(StateIdle)
			return true
		}
		if !c.guardLocked(ev.AttemptID, StateLeaving) {
			return false
		}
		c.setStateLocked(StateLeft)
		return true
	})
	switch from {
	case StateJoined:
		c.logger.Warn("Call ended by transport", log.String("attempt", ev.AttemptID))
		c.notify(NotifyWarning, "The voice channel connection was closed", nil)
	case StateJoining:
		err := interr.New(ErrTransport, "room closed before the call was joined")
		metricJoinFailures.WithLabelValues("transport").Inc()
		c.logger.Warn("Join ended by transport", log.String("attempt", ev.AttemptID))
		c.notify(NotifyError, "Could not join the voice channel", err)
	default:
		c.logger.Info("Left call", log.String("attempt", ev.AttemptID))
	}
}

func (c *Controller) onTransportError(ev Event) {
	err := ev.Err
	if err == nil {
		err = errors.New("transport reported an error")
	}
	err = interr.Wrap(ErrTransport, err, "transport event")

	var from State
	c.update(func() bool {
		if !c.guardLocked(ev.AttemptID, StateJoining, StateJoined, StateLeaving) {
			return false
		}
		from = c.state
		c.setStateLocked(StateIdle)
		return true
	})
	if from == "" {
		return
	}

	if from == StateJoining {
		metricJoinFailures.WithLabelValues("transport").Inc()
	}
	c.logger.Warn("Transport error", log.String("state", string(from)), log.Error(err))
	switch from {
	case StateJoining:
		c.notify(NotifyError, "Could not join the voice channel", err)
	case StateLeaving:
		c.notify(NotifyError, "Could not leave the voice channel cleanly", err)
	default:
		c.notify(NotifyError, "The voice channel connection failed", err)
	}
}

// onParticipantEvent rebuilds the participant map from the transport's
// membership view instead of patching deltas, so a missed event cannot
// leave a stale entry behind.
func (c *Controller) onParticipantEvent(ev Event) {
	members := c.transport.Participants()
	c.update(func() bool {
		if !c.guardLocked(ev.AttemptID, StateJoined) {
			return false
		}
		c.replaceParticipantsLocked(members)
		return true
	})
}

func (c *Controller) replaceParticipantsLocked(members []Participant) {
	m := make(map[string]Participant, len(members))
	for _, p := range members {
		m[p.SessionID] = p
	}
	c.participants = m
	metricParticipants.Set(float64(len(m)))
}
