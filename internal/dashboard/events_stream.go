package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/riverlock/fleetctl/internal/events"
)

// streamBufferSize bounds the per-connection event channel. A slow SSE
// client must never block event emission for the rest of the fleet.
const streamBufferSize = 64

// EventsStreamHandler serves GET /api/events as a server-sent events
// stream over the event bus. This is an ambient addition beyond the
// documented API surface: SPEC_FULL.md calls for it so the dashboard can
// reflect instance and command events live instead of polling.
type EventsStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventsStreamHandler constructs an EventsStreamHandler.
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		bus: bus,
		log: log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP streams every event emitted on the bus to the client as SSE
// frames until the client disconnects.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventChan := make(chan *events.Event, streamBufferSize)

	subs := make([]events.Subscription, 0, len(allStreamedTypes))
	for _, eventType := range allStreamedTypes {
		et := eventType
		subs = append(subs, h.bus.Subscribe(et, func(e *events.Event) {
			h.enqueueEvent(eventChan, e)
		}))
	}
	defer func() {
		for _, sub := range subs {
			h.bus.Unsubscribe(sub)
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			payload, err := json.Marshal(event)
			if err != nil {
				h.log.Error().Err(err).Msg("Failed to marshal event for stream")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// allStreamedTypes lists every event type the Dashboard exposes over SSE.
var allStreamedTypes = []events.EventType{
	events.InstanceDegraded,
	events.InstanceRestarting,
	events.InstanceRecovered,
	events.InstanceFailed,
	events.ConfigReloaded,
	events.CommandDispatched,
	events.SnapshotCaptured,
}

// enqueueEvent pushes event onto ch, dropping the oldest buffered event
// first if the channel is full. A stalled subscriber must lose history,
// not stall the publisher.
func (h *EventsStreamHandler) enqueueEvent(ch chan *events.Event, event *events.Event) {
	select {
	case ch <- event:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}
}
