package workflow

import (
	"encoding/json"
	"time"

	"github.com/richinex/agentpatterns/model"
	"github.com/richinex/agentpatterns/pubsub"
)

// GlobalTopic receives the events of every instance.
const GlobalTopic = "workflows"

// Event types published during an instance's lifecycle.
const (
	EventStarted           = "started"
	EventActivityCompleted = "activity_completed"
	EventActivityFailed    = "activity_failed"
	EventCompleted         = "completed"
	EventFailed            = "failed"
	EventTerminated        = "terminated"
)

// Topic returns the topic carrying the events of one instance.
func Topic(instanceID string) string {
	return "workflow." + instanceID
}

// Event is the payload of a lifecycle message.
type Event struct {
	Type       string               `json:"type"`
	InstanceID string               `json:"instance_id"`
	Workflow   string               `json:"workflow"`
	Status     model.WorkflowStatus `json:"status"`
	Activity   string               `json:"activity,omitempty"`
	Sequence   int                  `json:"sequence,omitempty"`
	Attempts   int                  `json:"attempts,omitempty"`
	Error      string               `json:"error,omitempty"`
	Output     json.RawMessage      `json:"output,omitempty"`
	Time       time.Time            `json:"time"`
}

// DecodeEvent reads the Event carried by a broker message.
func DecodeEvent(msg pubsub.Message) (Event, error) {
	var ev Event
	err := json.Unmarshal(msg.Data, &ev)
	return ev, err
}

func (r *Runtime) publish(ev Event) {
	if r.broker == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("failed to encode workflow event", "type", ev.Type, "error", err)
		return
	}
	for _, topic := range []string{Topic(ev.InstanceID), GlobalTopic} {
		r.broker.Publish(pubsub.Message{Topic: topic, Type: ev.Type, Data: raw, Time: ev.Time})
	}
}
