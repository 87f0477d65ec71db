/*
Package metrics provides Prometheus metrics for a mounted manualbox.

The Collector keeps its own registry, so nothing leaks into the global
default registry, and can serve it over HTTP:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Address:   "127.0.0.1:9273",
		Path:      "/metrics",
		Namespace: "manualbox",
	})
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

# Exported series

	manualbox_operations_total{operation,status}
	manualbox_operation_duration_seconds{operation}
	manualbox_operation_size_bytes{operation}
	manualbox_errors_total{operation,type}
	manualbox_access_decisions_total{outcome}
	manualbox_prompt_duration_seconds{granted}
	manualbox_access_records
	manualbox_container_size_bytes

Paths and process names are never used as label values.

# Disabled collectors

A collector built from a config with Enabled false accepts every call and
records nothing.
*/
package metrics
