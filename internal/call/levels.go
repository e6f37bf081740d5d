package call

import (
	"context"
)

// Intensity maps a raw audio level to [0,1]: level/threshold, clamped.
// Levels at or above threshold render at full intensity.
func Intensity(level, threshold float64) float64 {
	if threshold <= 0 || level <= 0 {
		return 0
	}
	v := level / threshold
	if v > 1 {
		return 1
	}
	return v
}

// onAudioLevelSample replaces the level map wholesale. Samples outside a
// joined call, or for an older attempt, are dropped.
func (c *Controller) onAudioLevelSample(attempt string, levels map[string]float64) {
	c.update(func() bool {
		if c.state != StateJoined || attempt == "" || attempt != c.attemptID {
			return false
		}
		next := make(map[string]float64, len(levels))
		for id, lv := range levels {
			next[id] = lv
		}
		c.levels = next
		c.levelsAt = c.clock.Now()
		return true
	})
}

func (c *Controller) startSamplerLocked() {
	c.stopSamplerLocked()

	ctx, cancel := context.WithCancel(context.Background())
	c.stopSampler = cancel
	attempt := c.attemptID
	ticker := c.clock.NewTicker(c.opts.LevelInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				c.onAudioLevelSample(attempt, c.transport.AudioLevels())
			}
		}
	}()
}

func (c *Controller) stopSamplerLocked() {
	if c.stopSampler != nil {
		c.stopSampler()
		c.stopSampler = nil
	}
}
