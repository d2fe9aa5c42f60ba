package stage

import (
	"context"

	"snag/internal/queue"
)

// Handler describes the contract the pipeline needs from each stage.
type Handler interface {
	Prepare(context.Context, *queue.Job) error
	Execute(context.Context, *queue.Job) error
	HealthCheck(context.Context) Health
}
