package events

import (
	"encoding/json"
	"time"
)

const (
	TypeCandidateQualified = "candidate.qualified"
	TypeSequenceStarted    = "sequence.started"
	TypeSequenceStepSent   = "sequence.step_sent"
	TypeSequenceEnded      = "sequence.ended"
	TypeTickCompleted      = "tick.completed"
	TypeTickFailed         = "tick.failed"
)

type Event struct {
	Type      string          `json:"type"`
	Version   int             `json:"v"`
	At        time.Time       `json:"at"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func MakeEvent(reqID, typ string, v int, data any) string {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	e := Event{
		Type:      typ,
		Version:   v,
		At:        time.Now().UTC(),
		RequestID: reqID,
		Data:      raw,
	}
	b, _ := json.Marshal(e)
	return string(b)
}

// Publisher receives serialized events. *Hub implements it.
type Publisher interface {
	Publish(evt string)
}

// Emit publishes a v1 event of typ to p. A nil p drops it.
func Emit(p Publisher, typ string, data any) {
	if p == nil {
		return
	}
	p.Publish(MakeEvent("", typ, 1, data))
}
