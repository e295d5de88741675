package service

import (
	"context"
	"time"
)

// ObservationHooks captures optional callbacks around a unit of work (a
// dispatched quick test, a campaign cell). Both fields are optional.
type ObservationHooks struct {
	OnStart    func(ctx context.Context, meta map[string]string)
	OnComplete func(ctx context.Context, meta map[string]string, err error, duration time.Duration)
}

// NoopObservationHooks is the safe default.
var NoopObservationHooks = ObservationHooks{}

// StartObservation triggers OnStart and returns a completion callback.
func StartObservation(ctx context.Context, hooks ObservationHooks, meta map[string]string) func(error) {
	if hooks.OnStart != nil {
		hooks.OnStart(ctx, meta)
	}
	start := time.Now()
	return func(err error) {
		if hooks.OnComplete != nil {
			hooks.OnComplete(ctx, meta, err, time.Since(start))
		}
	}
}
