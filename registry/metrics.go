package registry

import "github.com/go-slark/discovery/pkg/metrics"

var (
	registrations = metrics.NewCounter(
		metrics.SubSystem("registrar"),
		metrics.Name("registrations_total"),
		metrics.Help("Successful lease grants with record put, including re-registrations."),
		metrics.Labels("service", "reason"),
	)
	keepAliveFailures = metrics.NewCounter(
		metrics.SubSystem("registrar"),
		metrics.Name("keepalive_failures_total"),
		metrics.Help("Keepalive rounds that exhausted their retry budget or found the lease expired."),
		metrics.Labels("service"),
	)
	watchEvents = metrics.NewCounter(
		metrics.SubSystem("discovery"),
		metrics.Name("watch_events_total"),
		metrics.Help("Watch events applied to the membership map."),
		metrics.Labels("service", "type"),
	)
	watchRestarts = metrics.NewCounter(
		metrics.SubSystem("discovery"),
		metrics.Name("watch_restarts_total"),
		metrics.Help("Watch re-subscriptions by mode."),
		metrics.Labels("service", "mode"),
	)
	malformedRecords = metrics.NewCounter(
		metrics.SubSystem("discovery"),
		metrics.Name("malformed_records_total"),
		metrics.Help("Instance records skipped because they could not be decoded."),
		metrics.Labels("service"),
	)
	connectFailures = metrics.NewCounter(
		metrics.SubSystem("discovery"),
		metrics.Name("connect_failures_total"),
		metrics.Help("Discovered endpoints that could not be connected."),
		metrics.Labels("service"),
	)
	memberGauge = metrics.NewGauge(
		metrics.SubSystem("discovery"),
		metrics.Name("members"),
		metrics.Help("Live members per watched service."),
		metrics.Labels("service"),
	)
)
