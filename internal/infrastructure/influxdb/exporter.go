package influxdb

import (
	"strconv"

	"github.com/hearthlab/hearth-core/internal/bus"
	"github.com/hearthlab/hearth-core/internal/state"
)

// Logger defines the logging interface used by the Exporter.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricWriter receives numeric entity states. Satisfied by *Client;
// kept as an interface so tests can capture writes without a server.
type MetricWriter interface {
	WriteEntityMetric(entityID, domain string, value float64)
}

// Exporter mirrors numeric state changes from the event bus into
// InfluxDB. Non-numeric states are skipped silently; telemetry only
// makes sense for values that can be charted.
//
// Thread Safety: all methods are safe for concurrent use.
type Exporter struct {
	writer MetricWriter
	bus    *bus.Bus
	sub    *bus.Subscription
	logger Logger
}

// NewExporter creates an exporter over the given writer and bus.
// Call Start to begin exporting.
func NewExporter(writer MetricWriter, b *bus.Bus) *Exporter {
	return &Exporter{
		writer: writer,
		bus:    b,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the exporter.
func (e *Exporter) SetLogger(logger Logger) {
	e.logger = logger
}

// Start subscribes to state_changed events.
func (e *Exporter) Start() {
	e.sub = e.bus.Subscribe(bus.EventStateChanged, e.export)
}

// Close stops exporting. Pending batched points are flushed by the
// client's own Close.
func (e *Exporter) Close() {
	if e.sub != nil {
		e.sub.Cancel()
	}
}

// export writes one state_changed event if its new state is numeric.
func (e *Exporter) export(evt bus.Event) {
	data, ok := evt.StateChanged()
	if !ok {
		return
	}

	next, ok := data.NewState.(*state.State)
	if !ok || next == nil {
		// Removals carry a nil new state; nothing to chart.
		return
	}

	value, err := strconv.ParseFloat(next.Value, 64)
	if err != nil {
		return
	}

	e.writer.WriteEntityMetric(next.EntityID, next.Domain(), value)
	e.logger.Debug("exported metric", "entity_id", next.EntityID, "value", value)
}
