// Package telemetry bootstraps OpenTelemetry providers for the toolkit.
//
// The resilience executor accepts any metric.Meter and trace.Tracer; this
// package builds configured providers (stdout, OTLP, Prometheus) to supply
// them, with no-op providers for disabled subsystems.
package telemetry
