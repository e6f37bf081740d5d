package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	interr "highwayhub/voice/internal/errors"
	"highwayhub/voice/internal/log"
)

func fast() Policy {
	return Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Budget: time.Second}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	r := New(fast(), log.NewTest(t))

	calls := 0
	err := r.Do(context.Background(), "create room", func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPermanentStops(t *testing.T) {
	r := New(fast(), log.NewNop())
	want := errors.New("bad request")

	calls := 0
	err := r.Do(context.Background(), "create room", func() error {
		calls++
		return Permanent(want)
	})
	require.ErrorIs(t, err, want)
	assert.False(t, interr.Is(err, ErrExhausted))
	assert.Equal(t, 1, calls)
}

func TestRetryAttemptsCap(t *testing.T) {
	p := fast()
	p.Attempts = 3
	r := New(p, log.NewNop())
	cause := errors.New("503")

	calls := 0
	err := r.Do(context.Background(), "meeting token", func() error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, interr.Is(err, ErrExhausted))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "meeting token after 3 attempts")
}

func TestRetryHonoursHint(t *testing.T) {
	r := New(fast(), log.NewNop())

	calls := 0
	start := time.Now()
	err := r.Do(context.Background(), "create room", func() error {
		calls++
		if calls == 1 {
			return After(errors.New("429"), 60*time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRetryHonoursContext(t *testing.T) {
	r := New(Policy{Initial: 10 * time.Millisecond, Max: 10 * time.Millisecond, Budget: time.Minute}, log.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := r.Do(ctx, "create room", func() error { return errors.New("always") })
	require.Error(t, err)
	assert.False(t, interr.Is(err, ErrExhausted))
}
