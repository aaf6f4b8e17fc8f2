package jobs

// TaskDrainQueue replays a tag's queued mutations after a reconnect signal
const TaskDrainQueue = "sync:drain_queue"

// QueueSync is the asynq queue drain tasks run on
const QueueSync = "sync"

type DrainQueuePayload struct {
	Tag string `json:"tag"`
}
