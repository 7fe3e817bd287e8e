// Package influxdb writes speaker telemetry to InfluxDB v2.
//
// Three measurements are produced: "poll" (per-speaker fetch duration and
// outcome, written by the polling coordinator through RecordPoll), "playback"
// (volume and play state on observed transitions), and "zones" (fleet
// grouping counts). The Client satisfies the fleet registry's metrics sink,
// so it plugs straight into RegistryOptions.Metrics.
//
// Writes are batched and asynchronous; failures surface through the
// SetOnError callback, never as a return value on the write path. Telemetry
// is optional: Connect returns ErrDisabled when switched off in config and
// the rest of the system runs without it.
package influxdb
