// Package worker dispatches delivery jobs onto an asynq task queue. Asynq
// is the dispatch mechanism only: the Registry remains the durable-ish
// source of truth for a job's state, so a lost or replayed task re-derives
// its outcome from the same Deliver call the sync endpoint makes directly.
package worker

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// TaskMailDeliver is the only task type this worker processes: attempt
// delivery of the job already recorded in the Registry under Guid.
const TaskMailDeliver = "mail:deliver"

// QueueDefault is the single queue mail:deliver tasks are enqueued on.
const QueueDefault = "default"

// MailDeliverPayload carries the job identifier a mail:deliver task acts
// on; the message itself lives in the Registry, not the task payload.
type MailDeliverPayload struct {
	Guid string `json:"guid"`
}

// NewMailDeliverTask builds the asynq task POST /message/async-send
// enqueues after inserting guid into the Registry.
func NewMailDeliverTask(guid string) (*asynq.Task, error) {
	payload, err := json.Marshal(MailDeliverPayload{Guid: guid})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMailDeliver, payload, asynq.Queue(QueueDefault), asynq.MaxRetry(0)), nil
}
