package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ProcessJobQueue = "process_job_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type ProcessJobPayload struct {
	JobId uuid.UUID
}

type Publisher interface {
	PublishProcessJobTask(ctx context.Context, payload ProcessJobPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
