package shared

import (
	"context"
	"time"
)

// EventType represents the type of domain event.
type EventType string

const (
	// Identity events, supplied by the authentication collaborator.
	EventUserAuthenticated EventType = "identity.user_authenticated"
	EventUserSignedOut     EventType = "identity.user_signed_out"

	// App lifecycle events.
	EventAppForegrounded EventType = "lifecycle.app_foregrounded"

	// Events emitted by the sync core.
	EventLessonCompleted    EventType = "progress.lesson_completed"
	EventQuizResultSaved    EventType = "quiz.result_saved"
	EventMigrationCompleted EventType = "migration.completed"
)

// Event is the base interface for all domain events.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID is the user the event concerns.
	AggregateID() string
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }

// NewBaseEvent creates a new base event stamped with at.
func NewBaseEvent(eventType EventType, userID string, at time.Time) BaseEvent {
	return BaseEvent{Type: eventType, Timestamp: at, AggregateId: userID}
}

// ═══════════════════════════════════════════════════════════════════════════
// Identity & Lifecycle Events
// ═══════════════════════════════════════════════════════════════════════════

// UserAuthenticatedEvent fires once a stable user id is known.
type UserAuthenticatedEvent struct {
	BaseEvent
}

func (e UserAuthenticatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"user_id": e.AggregateId}
}

func NewUserAuthenticatedEvent(userID string, at time.Time) UserAuthenticatedEvent {
	return UserAuthenticatedEvent{BaseEvent: NewBaseEvent(EventUserAuthenticated, userID, at)}
}

// UserSignedOutEvent fires when the session ends.
type UserSignedOutEvent struct {
	BaseEvent
}

func (e UserSignedOutEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"user_id": e.AggregateId}
}

func NewUserSignedOutEvent(userID string, at time.Time) UserSignedOutEvent {
	return UserSignedOutEvent{BaseEvent: NewBaseEvent(EventUserSignedOut, userID, at)}
}

// AppForegroundedEvent fires when the app returns to the foreground.
type AppForegroundedEvent struct {
	BaseEvent
}

func (e AppForegroundedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"user_id": e.AggregateId}
}

func NewAppForegroundedEvent(userID string, at time.Time) AppForegroundedEvent {
	return AppForegroundedEvent{BaseEvent: NewBaseEvent(EventAppForegrounded, userID, at)}
}

// ═══════════════════════════════════════════════════════════════════════════
// Sync Core Events
// ═══════════════════════════════════════════════════════════════════════════

// LessonCompletedEvent is emitted after a completion is confirmed remotely.
type LessonCompletedEvent struct {
	BaseEvent
	GameID    string `json:"game_id"`
	ConceptID string `json:"concept_id"`
	XPEarned  int    `json:"xp_earned"`
	TotalXP   int    `json:"total_xp"`
	Streak    int    `json:"streak"`
}

func (e LessonCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"game_id":    e.GameID,
		"concept_id": e.ConceptID,
		"xp_earned":  e.XPEarned,
		"total_xp":   e.TotalXP,
		"streak":     e.Streak,
	}
}

func NewLessonCompletedEvent(userID, gameID, conceptID string, xpEarned, totalXP, streak int, at time.Time) LessonCompletedEvent {
	return LessonCompletedEvent{
		BaseEvent: NewBaseEvent(EventLessonCompleted, userID, at),
		GameID:    gameID,
		ConceptID: conceptID,
		XPEarned:  xpEarned,
		TotalXP:   totalXP,
		Streak:    streak,
	}
}

// QuizResultSavedEvent is emitted after an attempt is durably recorded.
// Synced is false when the attempt is only cached and awaits resync.
type QuizResultSavedEvent struct {
	BaseEvent
	ResultID   string `json:"result_id"`
	ConceptID  string `json:"concept_id"`
	QuizID     string `json:"quiz_id"`
	Percentage int    `json:"percentage"`
	Passed     bool   `json:"passed"`
	Perfect    bool   `json:"perfect"`
	Synced     bool   `json:"synced"`
}

func (e QuizResultSavedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"result_id":  e.ResultID,
		"concept_id": e.ConceptID,
		"quiz_id":    e.QuizID,
		"percentage": e.Percentage,
		"passed":     e.Passed,
		"perfect":    e.Perfect,
		"synced":     e.Synced,
	}
}

func NewQuizResultSavedEvent(userID, resultID, conceptID, quizID string, percentage int, passed, perfect, synced bool, at time.Time) QuizResultSavedEvent {
	return QuizResultSavedEvent{
		BaseEvent:  NewBaseEvent(EventQuizResultSaved, userID, at),
		ResultID:   resultID,
		ConceptID:  conceptID,
		QuizID:     quizID,
		Percentage: percentage,
		Passed:     passed,
		Perfect:    perfect,
		Synced:     synced,
	}
}

// MigrationCompletedEvent is emitted when the migrated flag is set.
type MigrationCompletedEvent struct {
	BaseEvent
	GamesMerged int `json:"games_merged"`
}

func (e MigrationCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"games_merged": e.GamesMerged}
}

func NewMigrationCompletedEvent(userID string, gamesMerged int, at time.Time) MigrationCompletedEvent {
	return MigrationCompletedEvent{
		BaseEvent:   NewBaseEvent(EventMigrationCompleted, userID, at),
		GamesMerged: gamesMerged,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus Contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler handles an event.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
