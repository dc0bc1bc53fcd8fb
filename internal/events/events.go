package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roomhub/apiserver/internal/mq"
	"github.com/roomhub/apiserver/internal/storage"
)

// Type names a domain event.
type Type string

const (
	AccountRegistered Type = "account.registered"
	AccountUpdated    Type = "account.updated"
	AccountDeleted    Type = "account.deleted"
	RoomCreated       Type = "room.created"
	RoomUpdated       Type = "room.updated"
	RoomDeleted       Type = "room.deleted"
	RoomJoined        Type = "room.joined"
)

// Event records a successful write.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	SubjectID  string    `json:"subjectId"`
	ActorID    string    `json:"actorId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// New stamps an event with a fresh id. The actor is taken from ctx.
func New(ctx context.Context, t Type, subjectID string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		SubjectID:  subjectID,
		ActorID:    ActorFromContext(ctx),
		OccurredAt: at.UTC(),
	}
}

type actorKey struct{}

// WithActor records the authenticated user performing the request.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// BrokerPublisher sends events as JSON messages on a broker channel.
type BrokerPublisher struct {
	backend mq.Backend
	channel string
}

func NewBrokerPublisher(backend mq.Backend, channel string) *BrokerPublisher {
	return &BrokerPublisher{backend: backend, channel: channel}
}

func (p *BrokerPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	attrs := map[string]string{
		"event_type": string(event.Type),
		"event_id":   event.ID,
	}
	if _, err := p.backend.Publish(ctx, p.channel, data, attrs); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// ArchivePublisher writes each event as a JSON object under ArchiveKey.
type ArchivePublisher struct {
	store storage.ObjectStorage
}

func NewArchivePublisher(store storage.ObjectStorage) *ArchivePublisher {
	return &ArchivePublisher{store: store}
}

func (p *ArchivePublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key := ArchiveKey(event)
	if err := p.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	return nil
}

// ArchiveKey returns events/YYYY/MM/DD/<id>.json for the event's UTC date.
func ArchiveKey(event Event) string {
	return fmt.Sprintf("events/%s/%s.json", event.OccurredAt.UTC().Format("2006/01/02"), event.ID)
}

// Fetch reads an archived event back.
func Fetch(ctx context.Context, store storage.ObjectStorage, key string) (Event, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return Event{}, err
	}
	defer rc.Close()

	var event Event
	if err := json.NewDecoder(rc).Decode(&event); err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return event, nil
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Decode parses an event delivered by a broker.
func Decode(msg mq.Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return Event{}, fmt.Errorf("decode message %s: %w", msg.ID, err)
	}
	return event, nil
}

// Build combines the configured backends. Either may be nil.
func Build(broker mq.Backend, channel string, archive storage.ObjectStorage) Publisher {
	var publishers Multi
	if broker != nil {
		publishers = append(publishers, NewBrokerPublisher(broker, channel))
	}
	if archive != nil {
		publishers = append(publishers, NewArchivePublisher(archive))
	}
	switch len(publishers) {
	case 0:
		return Noop{}
	case 1:
		return publishers[0]
	default:
		return publishers
	}
}
