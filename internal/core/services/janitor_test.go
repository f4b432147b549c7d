package services

import (
	"context"
	"testing"
	"time"

	"echoframe/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestJanitor_RunsHeartbeatUntilStopped(t *testing.T) {
	f := newFixture(t)
	f.switchTo(t, "v1")
	f.publisher.reset()

	j := NewJanitor(f.registry, time.Hour, 5*time.Millisecond)
	j.Start(context.Background())

	assert.Eventually(t, func() bool {
		return len(f.publisher.ofType(domain.EventPlaybackState)) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	j.Stop()
	j.Stop()
	n := len(f.publisher.ofType(domain.EventPlaybackState))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, len(f.publisher.ofType(domain.EventPlaybackState)))
}
