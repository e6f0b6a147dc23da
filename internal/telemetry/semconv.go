package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for metamart observability.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrEventType annotates bus metrics with the lifecycle event schema name.
	AttrEventType = attribute.Key("event.type")
	// AttrRegistry identifies the NFT collection an operation acted on.
	AttrRegistry = attribute.Key("registry.address")
	// AttrOperation labels abort counters with the lifecycle operation that failed.
	AttrOperation = attribute.Key("operation")
	// AttrReason carries the error code a rejected operation surfaced.
	AttrReason = attribute.Key("reason")
)

// EventType returns the event-type attribute for metric instrumentation.
func EventType(value string) attribute.KeyValue {
	return AttrEventType.String(value)
}

// Registry returns the registry-address attribute for metric instrumentation.
func Registry(value string) attribute.KeyValue {
	return AttrRegistry.String(value)
}

// Operation returns the operation attribute for metric instrumentation.
func Operation(value string) attribute.KeyValue {
	return AttrOperation.String(value)
}

// Reason returns the failure-reason attribute for metric instrumentation.
func Reason(value string) attribute.KeyValue {
	return AttrReason.String(value)
}
