package domain

// Task timeline event types
const (
	EventTypeTaskAdded      = "TASK_ADDED"
	EventTypeTaskStopped    = "TASK_STOPPED"
	EventTypeTaskTombstoned = "TASK_TOMBSTONED"
	EventTypeTaskKilled     = "TASK_KILLED"
	EventTypeTaskFault      = "TASK_FAULT"
)

// StatusForEventType maps a lifecycle event to the status shown on the
// timeline.
func StatusForEventType(typ string) EventStatus {
	switch typ {
	case EventTypeTaskAdded:
		return EventStatusPending
	case EventTypeTaskFault:
		return EventStatusFailed
	default:
		return EventStatusSuccess
	}
}
