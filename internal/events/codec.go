package events

import (
	"encoding/json"
	"fmt"
)

// registry maps each Kind to a zero-value constructor of its Details type,
// used to decode persisted/replayed events back into their concrete type.
var registry = map[Kind]func() Details{
	KindCreatedNamespace:                           func() Details { return &CreatedNamespace{} },
	KindDeletedNamespace:                           func() Details { return &DeletedNamespace{} },
	KindCreatedPipeline:                            func() Details { return &CreatedPipeline{} },
	KindDeletedPipeline:                            func() Details { return &DeletedPipeline{} },
	KindEnabledPipeline:                            func() Details { return &EnabledPipeline{} },
	KindDisabledPipeline:                           func() Details { return &DisabledPipeline{} },
	KindStartedDeployment:                          func() Details { return &StartedDeployment{} },
	KindCompletedDeployment:                        func() Details { return &CompletedDeployment{} },
	KindStartedRun:                                 func() Details { return &StartedRun{} },
	KindCompletedRun:                               func() Details { return &CompletedRun{} },
	KindStartedRunCancellation:                     func() Details { return &StartedRunCancellation{} },
	KindCreatedTaskExecution:                       func() Details { return &CreatedTaskExecution{} },
	KindStartedTaskExecution:                       func() Details { return &StartedTaskExecution{} },
	KindCompletedTaskExecution:                     func() Details { return &CompletedTaskExecution{} },
	KindStartedTaskExecutionCancellation:           func() Details { return &StartedTaskExecutionCancellation{} },
	KindInstalledExtension:                         func() Details { return &InstalledExtension{} },
	KindUninstalledExtension:                       func() Details { return &UninstalledExtension{} },
	KindEnabledExtension:                           func() Details { return &EnabledExtension{} },
	KindDisabledExtension:                          func() Details { return &DisabledExtension{} },
	KindPipelineExtensionSubscriptionRegistered:    func() Details { return &PipelineExtensionSubscriptionRegistered{} },
	KindPipelineExtensionSubscriptionUnregistered:  func() Details { return &PipelineExtensionSubscriptionUnregistered{} },
	KindCreatedRole:                                func() Details { return &CreatedRole{} },
	KindDeletedRole:                                func() Details { return &DeletedRole{} },
	KindExpiredRunObjects:                          func() Details { return &ExpiredRunObjects{} },
	KindEvictedPipelineObject:                      func() Details { return &EvictedPipelineObject{} },
	KindDroppedTriggerEvent:                        func() Details { return &DroppedTriggerEvent{} },
}

// MarshalDetails encodes an event's Details for storage, alongside its Kind.
func MarshalDetails(e Event) (kind Kind, payload []byte, err error) {
	payload, err = json.Marshal(e.Details)
	if err != nil {
		return "", nil, fmt.Errorf("events: marshal details: %w", err)
	}
	return e.Kind, payload, nil
}

// UnmarshalEvent reconstructs an Event from its stored fields.
func UnmarshalEvent(id int64, kind Kind, payload []byte, emitted int64) (Event, error) {
	ctor, ok := registry[kind]
	if !ok {
		return Event{}, fmt.Errorf("events: unknown kind %q", kind)
	}

	details := ctor()
	if err := json.Unmarshal(payload, details); err != nil {
		return Event{}, fmt.Errorf("events: unmarshal details for kind %q: %w", kind, err)
	}

	return Event{ID: id, Kind: kind, Details: details, Emitted: emitted}, nil
}

// Matches reports whether a subscription filter (a set of kinds, possibly
// containing KindAny) matches this event's kind.
func Matches(filter map[Kind]bool, kind Kind) bool {
	if filter[KindAny] {
		return true
	}
	return filter[kind]
}
