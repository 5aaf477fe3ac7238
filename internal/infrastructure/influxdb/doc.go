// Package influxdb provides optional time-series telemetry export for
// Hearth.
//
// Numeric entity states flowing through the event bus are mirrored as
// InfluxDB points so dashboards can chart long-range trends without
// querying the SQLite history store. The feature is off by default and
// enabled via influxdb.enabled in config.yaml.
//
// Writes are non-blocking: points are batched by the client library and
// flushed asynchronously. Write failures never propagate back into the
// event path; they surface through the error callback and are logged.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	exporter := influxdb.NewExporter(client, eventBus)
//	exporter.Start()
//	defer exporter.Close()
package influxdb
