package httpserver

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/avian-audio/transcribe-master/internal/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is a frame sent by a websocket client. Only "subscribe_job"
// is currently handled.
type clientMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

// serverMessage is a frame pushed to subscribers.
type serverMessage struct {
	Type string     `json:"type"`
	Job  *model.Job `json:"job"`
}

// safeConn serializes every write to a websocket connection behind its own
// mutex. gorilla/websocket forbids concurrent writers on the same
// connection, and a room broadcast, the ping ticker, and the subscribe
// snapshot can all reach the same conn from different goroutines.
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *safeConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck // best effort deadline
	return c.conn.WriteJSON(v)
}

func (c *safeConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck // best effort deadline
	return c.conn.WriteMessage(messageType, data)
}

// JobRoomManager is the job-id-keyed publish/subscribe channel: each job
// has a "room" of subscribed connections, and every status or chunk
// completion update is broadcast to that room. Grounded on
// internal/httpcontroller/handlers/websocket.go's AudioStreamManager,
// generalized from one stream per device to one room per job id.
type JobRoomManager struct {
	mu    sync.RWMutex
	rooms map[string]map[*safeConn]bool
	log   *slog.Logger
}

// NewJobRoomManager builds an empty room manager.
func NewJobRoomManager(log *slog.Logger) *JobRoomManager {
	if log == nil {
		log = slog.Default()
	}
	return &JobRoomManager{
		rooms: make(map[string]map[*safeConn]bool),
		log:   log,
	}
}

func (m *JobRoomManager) join(jobID string, conn *safeConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[jobID] == nil {
		m.rooms[jobID] = make(map[*safeConn]bool)
	}
	m.rooms[jobID][conn] = true
}

func (m *JobRoomManager) leave(conn *safeConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for jobID, conns := range m.rooms {
		if conns[conn] {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(m.rooms, jobID)
			}
		}
	}
}

// JobUpdated implements orchestrator.Notifier: it broadcasts the job's
// current record to every subscriber of its room.
func (m *JobRoomManager) JobUpdated(job *model.Job) {
	m.mu.RLock()
	conns := make([]*safeConn, 0, len(m.rooms[job.JobID]))
	for c := range m.rooms[job.JobID] {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	msg := serverMessage{Type: "job_update", Job: job}
	for _, conn := range conns {
		if err := conn.writeJSON(msg); err != nil {
			m.log.Warn("failed to push job update, dropping subscriber", "job_id", job.JobID, "error", err)
			m.leave(conn)
		}
	}
}

// handleWebsocket upgrades the connection and dispatches subscribe_job
// requests. A late subscriber immediately receives a snapshot of the job's
// current record, matching the original's socketio subscribe_job handler.
func (s *Server) handleWebsocket(c echo.Context) error {
	rawConn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	conn := &safeConn{conn: rawConn}
	defer rawConn.Close()
	defer s.rooms.leave(conn)

	rawConn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck // best effort deadline
	rawConn.SetPongHandler(func(string) error {
		return rawConn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	stop := make(chan struct{})
	go s.keepAlive(conn, stop)
	defer close(stop)

	for {
		var msg clientMessage
		if err := rawConn.ReadJSON(&msg); err != nil {
			return nil
		}
		if msg.Type != "subscribe_job" || msg.JobID == "" {
			continue
		}

		s.rooms.join(msg.JobID, conn)

		job, ok := s.store.GetJob(msg.JobID)
		if !ok {
			continue
		}
		if err := conn.writeJSON(serverMessage{Type: "job_update", Job: job}); err != nil {
			return nil
		}
	}
}

func (s *Server) keepAlive(conn *safeConn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
