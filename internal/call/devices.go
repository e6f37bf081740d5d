package call

import (
	"context"

	interr "highwayhub/voice/internal/errors"
	"highwayhub/voice/internal/log"
)

// SetInputDevice records deviceID as the staged microphone. Without a live
// call it is used by the next Join; with one it is applied right away and
// confirmed only if the transport accepts it.
func (c *Controller) SetInputDevice(ctx context.Context, deviceID string) error {
	return c.setDevice(ctx, DeviceInput, deviceID)
}

// SetOutputDevice is SetInputDevice for the speaker. Transports that cannot
// switch output before joining get the staged choice right after EventJoined.
func (c *Controller) SetOutputDevice(ctx context.Context, deviceID string) error {
	return c.setDevice(ctx, DeviceOutput, deviceID)
}

func (c *Controller) setDevice(ctx context.Context, kind DeviceKind, deviceID string) error {
	if deviceID == "" {
		deviceID = DefaultDevice
	}

	var attempt string
	c.update(func() bool {
		c.selectionLocked(kind).Staged = deviceID
		if c.state == StateJoined {
			attempt = c.attemptID
		}
		return true
	})
	if attempt == "" {
		return nil
	}
	return c.applyDevice(ctx, attempt, kind, deviceID)
}

// applyDevice pushes a staged device to the transport. On failure the
// confirmed device stays as it was and the staged choice is kept.
func (c *Controller) applyDevice(ctx context.Context, attempt string, kind DeviceKind, deviceID string) error {
	var err error
	if kind == DeviceInput {
		err = c.transport.SetInputDevice(ctx, deviceID)
	} else {
		err = c.transport.SetOutputDevice(ctx, deviceID)
	}
	if err != nil {
		metricControlFailures.WithLabelValues(string(kind)).Inc()
		err = interr.Wrapf(ErrDeviceControl, err, "set %s device %q", kind, deviceID)
		c.logger.Warn("Device switch failed",
			log.String("kind", string(kind)),
			log.String("device", deviceID),
			log.Error(err))
		c.notify(NotifyError, "Could not switch the "+string(kind)+" device", err)
		return err
	}

	c.update(func() bool {
		if !c.guardLocked(attempt, StateJoined) {
			return false
		}
		c.selectionLocked(kind).Confirmed = deviceID
		return true
	})
	return nil
}

func (c *Controller) selectionLocked(kind DeviceKind) *Selection {
	if kind == DeviceInput {
		return &c.input
	}
	return &c.output
}

// onDeviceListChanged refreshes the selectable devices. It never switches
// the devices of a live call, even if the selected one disappeared.
func (c *Controller) onDeviceListChanged() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ControlTimeout)
	defer cancel()
	c.refreshDevices(ctx)
}

func (c *Controller) refreshDevices(ctx context.Context) {
	list, err := c.devices.Devices(ctx)
	if err != nil {
		c.logger.Warn("Device enumeration failed", log.Error(err))
		return
	}

	var inputs, outputs []Device
	for _, d := range list {
		switch d.Kind {
		case DeviceInput:
			inputs = append(inputs, d)
		case DeviceOutput:
			outputs = append(outputs, d)
		}
	}

	c.update(func() bool {
		c.inputDevices = inputs
		c.outputDevices = outputs
		return true
	})
	c.logger.Debug("Devices refreshed",
		log.Int("inputs", len(inputs)),
		log.Int("outputs", len(outputs)))
}
