// Copyright 2024-2026 Aiku AI

package cdc

import (
	"context"

	"github.com/rs/zerolog"
)

// Handler handles one change event.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// BatchResult counts the outcome of one batch.
type BatchResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Processor replays batches in commit order.
type Processor struct {
	handler Handler
	log     zerolog.Logger
}

func NewProcessor(handler Handler, log zerolog.Logger) *Processor {
	return &Processor{
		handler: handler,
		log:     log.With().Str("component", "cdc").Logger(),
	}
}

// Process sorts the batch and handles each event in turn, waiting for one
// to finish before starting the next.
func (p *Processor) Process(ctx context.Context, events []Event) BatchResult {
	var res BatchResult
	for _, evt := range SortBatch(events) {
		log := p.log.With().
			Str("table", evt.Table).
			Str("action", string(evt.Action)).
			Str("record_id", evt.RecordID()).
			Str("position", evt.Position()).
			Logger()
		if err := p.handler.Handle(log.WithContext(ctx), evt); err != nil {
			log.Err(err).Msg("Failed to process change event")
			res.Failed++
			continue
		}
		res.Processed++
	}
	if res.Failed > 0 {
		p.log.Warn().Int("processed", res.Processed).Int("failed", res.Failed).Msg("Change batch finished with failures")
	} else {
		p.log.Debug().Int("processed", res.Processed).Msg("Change batch finished")
	}
	return res
}
