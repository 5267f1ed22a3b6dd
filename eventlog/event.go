package eventlog

import (
	"encoding/json"
	"strings"
	"time"
)

// AggregateType identifies the kind of entity a stream belongs to.
type AggregateType string

const (
	AggregateOrder      AggregateType = "order"
	AggregateRestaurant AggregateType = "restaurant"
	AggregateUser       AggregateType = "user"
)

// Valid reports whether t is one of the known aggregate types.
func (t AggregateType) Valid() bool {
	switch t {
	case AggregateOrder, AggregateRestaurant, AggregateUser:
		return true
	default:
		return false
	}
}

// ParseAggregateType converts user input such as CLI flags into an AggregateType.
func ParseAggregateType(s string) (AggregateType, bool) {
	t := AggregateType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Metadata is side-channel data stored with an event. It is never used for replay.
type Metadata struct {
	ActorID        string    `json:"actorId,omitempty"`
	Source         string    `json:"source,omitempty"`
	CorrelationID  string    `json:"correlationId,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
}

// Event is an immutable fact appended to one aggregate stream.
type Event struct {
	ID            string          `json:"id"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Version       int64           `json:"version"`
	Metadata      Metadata        `json:"metadata"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Stream returns the key of the stream the event belongs to.
func (e Event) Stream() StreamKey {
	return StreamKey{AggregateType: e.AggregateType, AggregateID: e.AggregateID}
}

// StreamKey addresses one ordered stream of events.
type StreamKey struct {
	AggregateType AggregateType
	AggregateID   string
}

// Stream is a convenience constructor for StreamKey.
func Stream(t AggregateType, id string) StreamKey {
	return StreamKey{AggregateType: t, AggregateID: id}
}

func (k StreamKey) String() string {
	return string(k.AggregateType) + ":" + k.AggregateID
}

// Topic is the bus topic carrying every event of the stream.
func (k StreamKey) Topic() string {
	return streamTopicPrefix + k.String()
}

func (k StreamKey) validate() error {
	if !k.AggregateType.Valid() {
		return invalidArgument("unknown aggregate type %q", k.AggregateType)
	}
	if strings.TrimSpace(k.AggregateID) == "" {
		return invalidArgument("aggregate id is required")
	}
	return nil
}

// StreamInfo describes the head of a stream.
type StreamInfo struct {
	Stream  StreamKey
	Version int64
}

// Snapshot caches the materialized state of an aggregate at Version.
type Snapshot struct {
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	Version       int64           `json:"version"`
	State         json.RawMessage `json:"state"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Stream returns the key of the stream the snapshot was taken from.
func (s Snapshot) Stream() StreamKey {
	return StreamKey{AggregateType: s.AggregateType, AggregateID: s.AggregateID}
}

// AppendRequest carries the caller-controlled fields of a new event.
type AppendRequest struct {
	AggregateType AggregateType
	AggregateID   string
	Version       int64
	Type          string
	Payload       []byte
	Metadata      Metadata
}

func (r AppendRequest) validate() error {
	if err := Stream(r.AggregateType, r.AggregateID).validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Type) == "" {
		return invalidArgument("event type is required")
	}
	if r.Version < 1 {
		return invalidArgument("version must be at least 1, got %d", r.Version)
	}
	return nil
}

// ToMillis is the timestamp encoding used by persistent backends.
func ToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis reverses ToMillis.
func FromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}
