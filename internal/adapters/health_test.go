package adapters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/railrun/railrun/internal/errs"
)

func TestHealth_PermanentErrorDisablesWithBackoff(t *testing.T) {
	h := newHealthTracker()
	now := time.Now()

	assert.True(t, h.Runnable("kraken", now))

	h.RecordTick("kraken", now, TickResult{Errors: []CallError{
		{Provider: "kraken", Kind: errs.KindProviderPermanent, Message: "400"},
	}})

	assert.False(t, h.Runnable("kraken", now.Add(10*time.Second)), "inside the 30s window")
	assert.True(t, h.Runnable("kraken", now.Add(31*time.Second)), "window elapsed")
}

func TestHealth_BackoffDoubles(t *testing.T) {
	h := newHealthTracker()
	now := time.Now()

	fail := TickResult{Errors: []CallError{{Kind: errs.KindProviderPermanent}}}

	h.RecordTick("kraken", now, fail)
	assert.True(t, h.Runnable("kraken", now.Add(31*time.Second)))

	// second strike parks it for 60s
	h.RecordTick("kraken", now.Add(31*time.Second), fail)
	assert.False(t, h.Runnable("kraken", now.Add(31*time.Second).Add(45*time.Second)))
	assert.True(t, h.Runnable("kraken", now.Add(31*time.Second).Add(61*time.Second)))
}

func TestHealth_CleanTicksResetBackoff(t *testing.T) {
	h := newHealthTracker()
	now := time.Now()
	fail := TickResult{Errors: []CallError{{Kind: errs.KindProviderPermanent}}}

	h.RecordTick("kraken", now, fail)
	h.RecordTick("kraken", now.Add(31*time.Second), TickResult{})
	h.RecordTick("kraken", now.Add(33*time.Second), TickResult{})

	// after two clean ticks the next failure starts over at 30s
	at := now.Add(35 * time.Second)
	h.RecordTick("kraken", at, fail)
	assert.True(t, h.Runnable("kraken", at.Add(31*time.Second)))
}

func TestHealth_AuthLocksUntilReset(t *testing.T) {
	h := newHealthTracker()
	now := time.Now()

	h.RecordTick("swiftline", now, TickResult{Errors: []CallError{
		{Kind: errs.KindProviderAuth, Message: "401"},
	}})

	assert.False(t, h.Runnable("swiftline", now.Add(24*time.Hour)), "no backoff recovers an auth lock")

	h.ResetAuth("swiftline")
	assert.True(t, h.Runnable("swiftline", now.Add(24*time.Hour)))
}

func TestHealth_TransientErrorsDoNotDisable(t *testing.T) {
	h := newHealthTracker()
	now := time.Now()

	h.RecordTick("kraken", now, TickResult{Errors: []CallError{
		{Kind: errs.KindProviderTransient},
		{Kind: errs.KindRateLimited},
	}})

	assert.True(t, h.Runnable("kraken", now.Add(time.Second)))
}

func TestHealth_Snapshot(t *testing.T) {
	h := newHealthTracker()
	h.RecordTick("kraken", time.Now(), TickResult{})

	states := h.Snapshot()
	assert.Len(t, states, 1)
	assert.Equal(t, "kraken", states[0].Adapter)
	assert.True(t, states[0].Enabled)
}
