package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened.
type EventType string

const (
	// Repository and runtime lifecycle
	EventRepositoryScanned EventType = "repository.scanned"
	EventViewPublished     EventType = "extensions.view.published"
	EventExtensionError    EventType = "extensions.error"

	// User actions
	EventExtensionEnabled  EventType = "extension.enabled"
	EventExtensionDisabled EventType = "extension.disabled"
	EventPriorityChanged   EventType = "extension.priority.changed"

	// Background jobs
	EventRemoteIndexRefreshed EventType = "remote.index.refreshed"
	EventUpdateAvailable      EventType = "extension.update.available"
)

// Event is the host-wide notification envelope carried by the global bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // runtime:<kind>, repository:<kind>/<origin>, updates
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent stamps a new event with an id and the current time.
func NewEvent(eventType EventType, source, message string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// NewScannedEvent reports a repository publication.
func NewScannedEvent(kind, origin string, generation uint64, count int, stale bool) Event {
	return NewEvent(EventRepositoryScanned,
		fmt.Sprintf("repository:%s/%s", kind, origin),
		fmt.Sprintf("%s %s scan %d published %d extensions", origin, kind, generation, count),
		map[string]interface{}{
			"kind":       kind,
			"origin":     origin,
			"generation": generation,
			"count":      count,
			"stale":      stale,
		})
}

// NewViewEvent reports a republished runtime view.
func NewViewEvent(kind string, ids []string, selected string) Event {
	return NewEvent(EventViewPublished,
		"runtime:"+kind,
		fmt.Sprintf("%d %s extensions active", len(ids), kind),
		map[string]interface{}{
			"kind":     kind,
			"ids":      ids,
			"selected": selected,
		})
}

// NewEnablementEvent reports an enable or disable action.
func NewEnablementEvent(kind, id string, enabled bool) Event {
	t, state := EventExtensionEnabled, "enabled"
	if !enabled {
		t, state = EventExtensionDisabled, "disabled"
	}
	return NewEvent(t, "runtime:"+kind,
		fmt.Sprintf("%s extension %s %s", kind, id, state),
		map[string]interface{}{"kind": kind, "extension_id": id})
}

// NewPriorityEvent reports a new priority order.
func NewPriorityEvent(kind string, ids []string) Event {
	return NewEvent(EventPriorityChanged, "runtime:"+kind,
		fmt.Sprintf("%s priority changed", kind),
		map[string]interface{}{"kind": kind, "ids": ids})
}

// NewErrorEvent mirrors an extension failure onto the global bus.
func NewErrorEvent(kind, extensionID, errorKind, message string) Event {
	return NewEvent(EventExtensionError, "runtime:"+kind, message,
		map[string]interface{}{
			"kind":         kind,
			"extension_id": extensionID,
			"error_kind":   errorKind,
		})
}
