package poller

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/bagstore/internal/model"
)

type stubAdvancer struct {
	calls      atomic.Int32
	code       int
	retryAfter time.Duration
	err        error
}

func (s *stubAdvancer) Advance(context.Context) (*model.AdvanceResult, int, time.Duration, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, 0, 0, s.err
	}
	if s.code == http.StatusTooManyRequests {
		return nil, s.code, s.retryAfter, nil
	}
	return &model.AdvanceResult{Shipped: 1}, http.StatusOK, 0, nil
}

func runFor(t *testing.T, p *Poller, d time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d + time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}
}

func TestPoller_PollsUntilCancelled(t *testing.T) {
	adv := &stubAdvancer{}
	runFor(t, New(adv, 10*time.Millisecond, zap.NewNop()), 100*time.Millisecond)

	assert.GreaterOrEqual(t, adv.calls.Load(), int32(3))
}

func TestPoller_KeepsPollingAfterErrors(t *testing.T) {
	adv := &stubAdvancer{err: errors.New("connection refused")}
	runFor(t, New(adv, 10*time.Millisecond, nil), 100*time.Millisecond)

	assert.GreaterOrEqual(t, adv.calls.Load(), int32(3))
}

func TestPoller_HonoursRetryAfter(t *testing.T) {
	adv := &stubAdvancer{code: http.StatusTooManyRequests, retryAfter: time.Hour}
	runFor(t, New(adv, 10*time.Millisecond, nil), 100*time.Millisecond)

	require.Equal(t, int32(1), adv.calls.Load())
}
