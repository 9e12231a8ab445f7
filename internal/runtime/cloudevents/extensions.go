package cloudevents

// Extension attribute names. They follow the CloudEvents naming rules
// (lower-case alphanumerics) so they survive every transport unchanged.
const (
	// ExtTenantID scopes the event to a customer tenant.
	ExtTenantID = "tenantid"

	// ExtCorrelationID ties together the events of one request or scan run.
	ExtCorrelationID = "correlationid"

	// ExtTraceParent and ExtTraceState carry W3C trace context, as defined by
	// the CloudEvents distributed tracing extension.
	ExtTraceParent = "traceparent"
	ExtTraceState  = "tracestate"

	// ExtEventVersion is an optional schema version for Data.
	ExtEventVersion = "eventversion"
)

func TenantID(evt Event) string { return evt.ExtensionString(ExtTenantID) }

func WithTenantID(evt Event, tenantID string) Event {
	return evt.WithExtension(ExtTenantID, tenantID)
}

func CorrelationID(evt Event) string { return evt.ExtensionString(ExtCorrelationID) }

func WithCorrelationID(evt Event, id string) Event {
	return evt.WithExtension(ExtCorrelationID, id)
}

func EventVersion(evt Event) string { return evt.ExtensionString(ExtEventVersion) }

func WithEventVersion(evt Event, version string) Event {
	return evt.WithExtension(ExtEventVersion, version)
}

// CopyCorrelation copies tenant and correlation attributes from src onto dst,
// which is what a handler usually wants when it emits a follow-up event.
func CopyCorrelation(src, dst Event) Event {
	ext := make(map[string]any, 2)
	if v := TenantID(src); v != "" {
		ext[ExtTenantID] = v
	}
	if v := CorrelationID(src); v != "" {
		ext[ExtCorrelationID] = v
	}
	return dst.MergeExtensions(ext)
}
