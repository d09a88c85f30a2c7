package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/model"
	"stylist-server/modules/common/response"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// 모든 origin 허용 (CORS 미들웨어와 동일 정책)
		return true
	},
}

// JobSource - 스냅샷 조회 + 변경 구독 (job.Store)
type JobSource interface {
	Get(ctx context.Context, jobID string) (*model.Job, error)
	Subscribe(ctx context.Context, jobID string) *redis.PubSub
}

// Event - 클라이언트로 보내는 메시지
type Event struct {
	Type string          `json:"type"` // snapshot | update
	Job  json.RawMessage `json:"job"`
}

// Metrics - 피드 연결 통계
type Metrics struct {
	TotalConnections  int       `json:"totalConnections"`
	ActiveConnections int       `json:"activeConnections"`
	ActiveJobs        int       `json:"activeJobs"`
	StartTime         time.Time `json:"startTime"`
}

// Feed - jobId 별 websocket 구독자 관리
type Feed struct {
	source JobSource

	mutex   sync.RWMutex
	watches map[string]int // jobId → 연결 수
	metrics Metrics
}

func NewFeed(source JobSource) *Feed {
	return &Feed{
		source:  source,
		watches: make(map[string]int),
		metrics: Metrics{StartTime: time.Now()},
	}
}

// RegisterRoutes - 라우트 등록
func (f *Feed) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", f.handleWebSocket)

	log := logger.For("realtime")
	log.Info().Msg("✅ [Realtime] Routes registered: /ws?jobId=")
}

// Metrics - 현재 통계 복사본
func (f *Feed) Metrics() Metrics {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	m := f.metrics
	m.ActiveJobs = len(f.watches)
	return m
}

func (f *Feed) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := logger.For("realtime")

	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		response.WriteError(w, r, fmt.Errorf("%w: jobId is required", model.ErrValidation))
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// 구독 확정 후 스냅샷 조회 (사이에 생긴 변경을 놓치지 않음)
	sub := f.source.Subscribe(ctx, jobID)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		response.WriteError(w, r, fmt.Errorf("%w: subscribe %s: %v", model.ErrStorage, jobID, err))
		return
	}

	snapshot, err := f.source.Get(ctx, jobID)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	f.track(jobID, 1)
	defer f.track(jobID, -1)
	log.Info().Msgf("🔍 [Realtime] New WebSocket connection - Job: %s", jobID)

	// 클라이언트 종료 감지 (읽기 전용 루프)
	go f.readPump(conn, cancel)

	data, _ := json.Marshal(snapshot)
	if err := writeEvent(conn, "snapshot", data); err != nil || snapshot.Status.IsTerminal() {
		closeNormal(conn)
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	messages := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-messages:
			if !ok {
				return
			}
			var job model.Job
			if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
				log.Warn().Err(err).Msgf("⚠️ [Realtime] Skipping corrupt snapshot for job %s", jobID)
				continue
			}
			if err := writeEvent(conn, "update", []byte(msg.Payload)); err != nil {
				log.Debug().Err(err).Msgf("WebSocket write error (job %s)", jobID)
				return
			}
			if job.Status.IsTerminal() {
				log.Info().Msgf("🏁 [Realtime] Job %s reached %s, closing feed", jobID, job.Status)
				closeNormal(conn)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				log := logger.For("realtime")
				log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (f *Feed) track(jobID string, delta int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.watches[jobID] += delta
	if f.watches[jobID] <= 0 {
		delete(f.watches, jobID)
	}
	f.metrics.ActiveConnections += delta
	if delta > 0 {
		f.metrics.TotalConnections++
	}
}

func writeEvent(conn *websocket.Conn, kind string, job []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(Event{Type: kind, Job: job})
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
