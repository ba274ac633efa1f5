package handlers

// Metadata key constants used throughout meshwire. These keys are reserved
// and should not be used for custom metadata.
const (
	// MetadataKeyCorrelationID tracks related messages across services.
	MetadataKeyCorrelationID = "correlation-id"

	// MetadataKeyEventSchema identifies the proto message type.
	MetadataKeyEventSchema = "event_message_schema"

	// MetadataKeyRequestID carries the envelope request identifier.
	MetadataKeyRequestID = "x-request-id"

	// MetadataKeyTenant carries the envelope tenant.
	MetadataKeyTenant = "x-tenant"
)
