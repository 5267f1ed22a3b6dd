package stream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
)

type fakeAuth struct{}

func (fakeAuth) ActorID(h http.Header) (string, error) {
	if h.Get(echo.HeaderAuthorization) != "Bearer good" {
		return "", assert.AnError
	}
	return "actor-1", nil
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetLevel(log.WarnLevel)
	return l
}

func TestFilterMatches(t *testing.T) {
	u := projection.OrderUpdate{OrderID: "O1", RestaurantID: "R1", UserID: "U1"}
	assert.True(t, Filter{}.matches(u))
	assert.True(t, Filter{RestaurantID: "R1"}.matches(u))
	assert.True(t, Filter{RestaurantID: "R1", UserID: "U1"}.matches(u))
	assert.False(t, Filter{RestaurantID: "R2"}.matches(u))
	assert.False(t, Filter{OrderID: "O2", RestaurantID: "R1"}.matches(u))
}

func TestHubDropsSlowSubscribers(t *testing.T) {
	h := NewHub(1)
	fast, unsubFast := h.Subscribe(Filter{})
	slow, unsubSlow := h.Subscribe(Filter{RestaurantID: "R1"})
	defer unsubFast()

	h.Broadcast(projection.OrderUpdate{OrderID: "O1", RestaurantID: "R1"})
	<-fast
	h.Broadcast(projection.OrderUpdate{OrderID: "O1", RestaurantID: "R1", Version: 2})

	require.Equal(t, 1, h.Len())
	first, ok := <-slow
	require.True(t, ok)
	assert.Equal(t, "O1", first.OrderID)
	_, ok = <-slow
	assert.False(t, ok, "expected dropped subscriber channel to be closed")

	// unsubscribing after the drop is a no-op
	unsubSlow()
	got := <-fast
	assert.Equal(t, int64(2), got.Version)
}

func readEvent(t *testing.T, r *bufio.Reader) (name, id, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if name != "" {
				return name, id, data
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStreamSendsSnapshotThenMatchingUpdates(t *testing.T) {
	ctx := context.Background()
	store := projection.NewMemoryStore()
	require.NoError(t, store.UpsertOrder(ctx, projection.OrderView{ID: "O1", RestaurantID: "R1", UserID: "U1", Status: "submitted"}))
	require.NoError(t, store.UpsertOrder(ctx, projection.OrderView{ID: "O2", RestaurantID: "R2", UserID: "U1", Status: "submitted"}))

	hub := NewHub(8)
	e := echo.New()
	Register(e, hub, store, fakeAuth{}, time.Hour, quietLogger())
	srv := httptest.NewServer(e)
	defer srv.Close()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/api/stream?restaurantId=R1&token=good", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	r := bufio.NewReader(resp.Body)
	name, _, data := readEvent(t, r)
	require.Equal(t, "snapshot", name)
	var initial []projection.OrderView
	require.NoError(t, sonic.UnmarshalString(data, &initial))
	require.Len(t, initial, 1)
	assert.Equal(t, "O1", initial[0].ID)

	require.NoError(t, store.UpsertOrder(ctx, projection.OrderView{ID: "O2", RestaurantID: "R2", UserID: "U1", Status: "accepted"}))
	hub.Broadcast(projection.OrderUpdate{OrderID: "O2", RestaurantID: "R2", UserID: "U1", Version: 2})
	require.NoError(t, store.UpsertOrder(ctx, projection.OrderView{ID: "O1", RestaurantID: "R1", UserID: "U1", Status: "accepted"}))
	hub.Broadcast(projection.OrderUpdate{OrderID: "O1", RestaurantID: "R1", UserID: "U1", Version: 2})

	name, id, data := readEvent(t, r)
	require.Equal(t, "order", name)
	assert.Equal(t, "O1:2", id)
	var view projection.OrderView
	require.NoError(t, sonic.UnmarshalString(data, &view))
	assert.Equal(t, "accepted", view.Status)

	cancel()
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamRejectsMissingToken(t *testing.T) {
	e := echo.New()
	Register(e, NewHub(1), projection.NewMemoryStore(), fakeAuth{}, time.Hour, quietLogger())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream?restaurantId=R1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListenRelaysPublishedUpdates(t *testing.T) {
	m, err := miniredis.Run()
	require.NoError(t, err)
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	hub := NewHub(4)
	updates, unsubscribe := hub.Subscribe(Filter{UserID: "U1"})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Listen(ctx, rc, "order-updates", hub, quietLogger())
		close(done)
	}()
	require.Eventually(t, func() bool {
		n, err := rc.PubSubNumSub(ctx, "order-updates").Result()
		return err == nil && n["order-updates"] > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, rc.Publish(ctx, "order-updates", "not json").Err())
	payload, err := sonic.MarshalString(projection.OrderUpdate{OrderID: "O1", UserID: "U1", Status: "ready", Version: 5})
	require.NoError(t, err)
	require.NoError(t, rc.Publish(ctx, "order-updates", payload).Err())

	select {
	case u := <-updates:
		assert.Equal(t, "O1", u.OrderID)
		assert.Equal(t, int64(5), u.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("update not relayed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not exit")
	}
}
