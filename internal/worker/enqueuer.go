package worker

import "github.com/hibiken/asynq"

// TaskEnqueuer abstracts *asynq.Client so ingress handlers can be tested
// without a live Redis connection.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer hands a guid already present in the Registry to the mail:deliver
// queue, the background path POST /message/async-send uses.
type Enqueuer struct {
	client TaskEnqueuer
}

// NewEnqueuer wraps client (typically *asynq.Client) for task dispatch.
func NewEnqueuer(client TaskEnqueuer) *Enqueuer {
	return &Enqueuer{client: client}
}

// EnqueueDeliver schedules delivery of guid in the background.
func (e *Enqueuer) EnqueueDeliver(guid string) error {
	task, err := NewMailDeliverTask(guid)
	if err != nil {
		return err
	}
	_, err = e.client.Enqueue(task)
	return err
}
