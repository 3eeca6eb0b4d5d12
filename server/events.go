package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/richinex/agentpatterns/model"
	"github.com/richinex/agentpatterns/workflow"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// handleEvents streams the lifecycle events of one instance as JSON text
// frames and closes the socket after the terminal event. An instance that
// has already finished gets a single event describing its final state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Subscribe before reading the status so a finish in between is not lost.
	sub := s.rt.Subscribe(id, eventBuffer)
	if sub == nil {
		writeError(w, http.StatusNotImplemented, "event streaming is not enabled")
		return
	}
	defer sub.Close()

	inst, err := s.rt.Status(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.WarnContext(r.Context(), "websocket upgrade failed", "instance", id, "error", err)
		return
	}
	defer conn.CloseNow()

	// Incoming frames are ignored; the returned context ends when the peer
	// goes away.
	ctx := conn.CloseRead(r.Context())

	if inst.Status.Terminal() {
		if err := write(ctx, conn, finalEvent(inst)); err == nil {
			conn.Close(websocket.StatusNormalClosure, string(inst.Status))
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case msg, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "event stream closed")
				return
			}
			ev, err := workflow.DecodeEvent(msg)
			if err != nil {
				s.log.WarnContext(ctx, "skipping malformed event", "instance", id, "error", err)
				continue
			}
			if err := write(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.DebugContext(ctx, "event stream ended", "instance", id, "error", err)
				}
				return
			}
			if ev.Status.Terminal() {
				conn.Close(websocket.StatusNormalClosure, string(ev.Status))
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, ev workflow.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

func finalEvent(inst model.WorkflowInstance) workflow.Event {
	ev := workflow.Event{
		InstanceID: inst.ID,
		Workflow:   inst.Name,
		Status:     inst.Status,
		Error:      inst.Error,
		Output:     inst.Output,
		Time:       inst.UpdatedAt,
	}
	switch inst.Status {
	case model.WorkflowCompleted:
		ev.Type = workflow.EventCompleted
	case model.WorkflowFailed:
		ev.Type = workflow.EventFailed
	default:
		ev.Type = workflow.EventTerminated
	}
	return ev
}
