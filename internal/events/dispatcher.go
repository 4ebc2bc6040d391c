package events

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"shopsys/internal/domain"
)

// LogDispatcher writes events to the log. Used when no broker is configured.
type LogDispatcher struct {
	logger log.FieldLogger
}

func NewLogDispatcher(logger log.FieldLogger) *LogDispatcher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(_ context.Context, event domain.Event) error {
	fields := log.Fields{"event": event.Type(), "routing_key": RoutingKey(event)}
	if placed, ok := event.(domain.OrderPlaced); ok {
		fields["event_id"] = placed.EventID
		fields["order_id"] = placed.OrderID
		fields["lines"] = len(placed.Lines)
	}
	d.logger.WithFields(fields).Info("event dispatched")
	return nil
}

// RoutingKey is the topic an event is published under
func RoutingKey(event domain.Event) string {
	switch event.(type) {
	case domain.OrderPlaced:
		return "order.placed"
	default:
		return strings.ToLower(event.Type())
	}
}
