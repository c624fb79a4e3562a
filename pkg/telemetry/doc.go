// Package telemetry turns reactive.Root instrumentation into Prometheus
// metrics and OpenTelemetry spans.
//
// Both types implement reactive.Observer. Combine them with
// reactive.Observers:
//
//	root := reactive.NewRoot(reactive.WithObserver(reactive.Observers(
//	    telemetry.NewMetrics(telemetry.WithRegistry(reg)),
//	    telemetry.NewTracer(),
//	)))
package telemetry
