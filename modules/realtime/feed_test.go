package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"stylist-server/modules/common/model"
	"stylist-server/modules/job"
)

func newFeedServer(t *testing.T) (*httptest.Server, *job.Machine, *Feed) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	machine := job.NewMachine(job.NewStore(rdb, 0))
	feed := NewFeed(machine.Store())

	r := mux.NewRouter()
	feed.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, machine, feed
}

func readEvent(t *testing.T, conn *websocket.Conn) (Event, model.Job) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	var snap model.Job
	require.NoError(t, json.Unmarshal(ev.Job, &snap))
	return ev, snap
}

func TestFeedStreamsUntilTerminal(t *testing.T) {
	srv, machine, feed := newFeedServer(t)
	ctx := context.Background()

	created, err := machine.CreateJob(ctx, job.CreateRequest{
		UserID: "u1",
		Input:  model.JobInput{HumanImage: "https://img/h.png"},
		Suggestions: []model.StyleSuggestion{
			{Title: "Classic", Explanation: "navy suit"},
		},
	})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?jobId=" + created.JobID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ev, snap := readEvent(t, conn)
	require.Equal(t, "snapshot", ev.Type)
	require.Equal(t, model.JobStatusGeneratingSuggestions, snap.Status)

	_, err = machine.StartSuggestion(ctx, created.JobID, 0)
	require.NoError(t, err)
	ev, snap = readEvent(t, conn)
	require.Equal(t, "update", ev.Type)
	require.Equal(t, model.SuggestionStatusGeneratingImages, snap.Suggestions[0].Status)

	_, err = machine.CompleteSuggestion(ctx, created.JobID, 0, "prompt", []string{"https://cdn/0.webp"})
	require.NoError(t, err)
	ev, snap = readEvent(t, conn)
	require.Equal(t, "update", ev.Type)
	require.Equal(t, model.JobStatusSucceed, snap.Status)

	// 종료 상태 이후 서버가 정상 종료 프레임을 보냄
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	require.Eventually(t, func() bool {
		m := feed.Metrics()
		return m.TotalConnections == 1 && m.ActiveConnections == 0 && m.ActiveJobs == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestFeedClosesImmediatelyForFinishedJob(t *testing.T) {
	srv, machine, _ := newFeedServer(t)
	ctx := context.Background()

	created, err := machine.CreateJob(ctx, job.CreateRequest{
		UserID: "u1",
		Input:  model.JobInput{HumanImage: "https://img/h.png"},
	})
	require.NoError(t, err)
	_, err = machine.CancelJob(ctx, created.JobID)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?jobId=" + created.JobID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, snap := readEvent(t, conn)
	require.Equal(t, model.JobStatusCancelled, snap.Status)

	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestFeedRejectsBadRequests(t *testing.T) {
	srv, _, _ := newFeedServer(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws?jobId=missing")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
