package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/internal/testutil"
	"github.com/cuongbtq/content-pipeline/shared/logger"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastFiltersByOwner(t *testing.T) {
	hub := NewHub(4, nil, logger.NewNop().Logger)

	alice := hub.Subscribe("alice")
	bob := hub.Subscribe("bob")
	assert.Equal(t, 2, hub.Count())

	delivered := hub.Broadcast(domain.NewLifecycleEvent("job-1", "alice", domain.JobStatusFailed, "quota exceeded"))
	assert.Equal(t, 1, delivered)

	select {
	case push := <-alice.Pushes():
		assert.Equal(t, Push{JobID: "job-1", Status: domain.JobStatusFailed, Error: "quota exceeded"}, push)
	default:
		t.Fatal("alice did not receive her event")
	}

	select {
	case push := <-bob.Pushes():
		t.Fatalf("bob received %v", push)
	default:
	}
}

func TestHub_DropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(1, nil, logger.NewNop().Logger)
	sub := hub.Subscribe("alice")

	assert.Equal(t, 1, hub.Broadcast(domain.NewLifecycleEvent("job-1", "alice", domain.JobStatusCompleted, "")))
	assert.Equal(t, 0, hub.Broadcast(domain.NewLifecycleEvent("job-2", "alice", domain.JobStatusCompleted, "")))

	push := <-sub.Pushes()
	assert.Equal(t, "job-1", push.JobID)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(1, nil, logger.NewNop().Logger)
	sub := hub.Subscribe("alice")

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	assert.Zero(t, hub.Count())
	_, ok := <-sub.Pushes()
	assert.False(t, ok)
	assert.Zero(t, hub.Broadcast(domain.NewLifecycleEvent("job-1", "alice", domain.JobStatusCompleted, "")))
}

func TestDispatcher_Run(t *testing.T) {
	hub := NewHub(4, nil, logger.NewNop().Logger)
	sub := hub.Subscribe("user-1")
	q := testutil.NewMemoryQueue()
	src := q.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewDispatcher(hub, logger.NewNop().Logger).Run(ctx, src) }()

	require.NoError(t, q.PublishLifecycle(context.Background(), domain.NewLifecycleEvent("job-1", "user-1", domain.JobStatusCompleted, "")))

	select {
	case push := <-sub.Pushes():
		assert.Equal(t, "job-1", push.JobID)
		assert.Equal(t, domain.JobStatusCompleted, push.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("push not delivered")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, q.Subscribers(), "subscription released on stop")
}

func TestDispatcher_RunSourceClosed(t *testing.T) {
	hub := NewHub(4, nil, logger.NewNop().Logger)
	q := testutil.NewMemoryQueue()
	src := q.Subscribe()
	require.NoError(t, src.Close())

	err := NewDispatcher(hub, logger.NewNop().Logger).Run(context.Background(), src)
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestWSServer_Serve(t *testing.T) {
	hub := NewHub(4, nil, logger.NewNop().Logger)
	ws := NewWSServer(hub, WSConfig{WriteTimeout: time.Second, PingInterval: time.Minute}, logger.NewNop().Logger)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = ws.Serve(w, r, r.URL.Query().Get("user_id"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user_id=user-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(domain.NewLifecycleEvent("job-other", "user-2", domain.JobStatusCompleted, ""))
	hub.Broadcast(domain.NewLifecycleEvent("job-1", "user-1", domain.JobStatusFailed, "quota exceeded"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var raw map[string]any
	require.NoError(t, conn.ReadJSON(&raw))
	assert.Equal(t, map[string]any{
		"job_id": "job-1",
		"status": "failed",
		"error":  "quota exceeded",
	}, raw)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
