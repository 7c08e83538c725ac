package bus

import (
	"context"
	"encoding/json"
	"time"

	"judgehub/internal/common/mq"
	"judgehub/internal/judge/model"
	appErr "judgehub/pkg/errors"
)

// DefaultRejudgePriority applies when a rejudge request names no priority.
const DefaultRejudgePriority = -50

// Topics names the Kafka topics bridged to the bus.
type Topics struct {
	RecordChange string `json:",default=judge.record.change"`
	RecordJudge  string `json:",default=judge.record.judge"`
	Rejudge      string `json:",default=judge.rejudge"`
}

// RecordEvent is the wire form of a bridged record event.
type RecordEvent struct {
	Event     string            `json:"event"`
	DomainID  string            `json:"domainId"`
	RecordID  string            `json:"rid"`
	UserID    int64             `json:"uid"`
	ProblemID int64             `json:"pid"`
	ContestID string            `json:"contest,omitempty"`
	Status    model.Status      `json:"status"`
	Score     float64           `json:"score"`
	Progress  *float64          `json:"progress,omitempty"`
	Set       *model.RecordSet  `json:"set,omitempty"`
	Push      *model.RecordPush `json:"push,omitempty"`
	// Full marks a change event carrying a reloaded record.
	Full      bool      `json:"full,omitempty"`
	Updated   bool      `json:"updated,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// KafkaBridge republishes record events to Kafka for other services.
type KafkaBridge struct {
	producer mq.Producer
	topics   Topics
}

func NewKafkaBridge(producer mq.Producer, topics Topics) *KafkaBridge {
	return &KafkaBridge{producer: producer, topics: topics}
}

// Attach subscribes the bridge to b. The returned func detaches it.
func (k *KafkaBridge) Attach(b *Bus) func() {
	var detach []func()
	if k.topics.RecordChange != "" {
		detach = append(detach, b.Subscribe(EventRecordChange, k.forward(k.topics.RecordChange)))
	}
	if k.topics.RecordJudge != "" {
		detach = append(detach, b.Subscribe(EventRecordJudge, k.forward(k.topics.RecordJudge)))
	}
	return func() {
		for _, fn := range detach {
			fn()
		}
	}
}

func (k *KafkaBridge) forward(topic string) Handler {
	return func(ctx context.Context, ev Event) error {
		if ev.Record == nil {
			return nil
		}
		out := NewRecordEvent(ev)
		body, err := json.Marshal(out)
		if err != nil {
			return appErr.Wrapf(err, appErr.InternalServerError, "encode record event failed")
		}
		msg := mq.NewMessage(out.DomainID+"/"+out.RecordID, body)
		msg.SetHeader("event", ev.Name)
		return k.producer.Publish(ctx, topic, msg)
	}
}

// NewRecordEvent flattens a bus event into its wire form.
func NewRecordEvent(ev Event) RecordEvent {
	rec := ev.Record
	out := RecordEvent{
		Event:     ev.Name,
		DomainID:  rec.DomainID,
		RecordID:  rec.ID,
		UserID:    rec.UserID,
		ProblemID: rec.ProblemID,
		ContestID: rec.ContestID,
		Status:    rec.Status,
		Score:     rec.Score,
		Progress:  rec.Progress,
		Updated:   ev.Updated,
		Timestamp: time.Now(),
	}
	if ev.Name == EventRecordChange {
		if ev.Update == nil {
			out.Full = true
		} else {
			set, push := ev.Update.Set, ev.Update.Push
			out.Set, out.Push = &set, &push
		}
	}
	return out
}

// Rejudger schedules records for another judge run.
type Rejudger interface {
	Judge(ctx context.Context, domainID string, recordIDs []string, priority int, meta model.TaskMeta) error
}

// RejudgeRequest is the body of a rejudge topic message.
type RejudgeRequest struct {
	DomainID  string   `json:"domainId"`
	RecordIDs []string `json:"rids"`
	Priority  *int     `json:"priority,omitempty"`
}

// RejudgeHandler consumes rejudge requests. Malformed requests are dropped
// instead of retried.
func RejudgeHandler(r Rejudger) mq.HandlerFunc {
	return func(ctx context.Context, message *mq.Message) error {
		var req RejudgeRequest
		if err := json.Unmarshal(message.Body, &req); err != nil {
			return nil
		}
		if req.DomainID == "" || len(req.RecordIDs) == 0 {
			return nil
		}
		priority := DefaultRejudgePriority
		if req.Priority != nil {
			priority = *req.Priority
		}
		return r.Judge(ctx, req.DomainID, req.RecordIDs, priority, model.TaskMeta{Rejudge: true})
	}
}
