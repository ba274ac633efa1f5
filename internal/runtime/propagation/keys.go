package propagation

// Wire header names. Fixed by the metadata contract: lower-case on write,
// case-insensitive on read.
const (
	HeaderRequestID = "x-request-id"
	HeaderTimestamp = "x-timestamp"
	HeaderVersion   = "x-version"
	HeaderTenant    = "x-tenant"

	// HeaderDurationMillis carries the responder-measured wall time as an
	// integer millisecond count. Fractional or unit-suffixed forms are
	// rejected on extract.
	HeaderDurationMillis = "x-duration-ms"

	HeaderUserID      = "x-user-id"
	HeaderSessionID   = "x-session-id"
	HeaderAuthMethod  = "x-auth-method"
	HeaderPermissions = "x-permissions"
	HeaderIPAddress   = "x-ip-address"

	HeaderTraceID      = "x-trace-id"
	HeaderSpanID       = "x-span-id"
	HeaderParentSpanID = "x-parent-span-id"
	HeaderSampled      = "x-sampled"

	HeaderOnBehalfOfOriginal         = "x-on-behalf-of-original"
	HeaderOnBehalfOfDelegatingUser   = "x-on-behalf-of-delegating-user"
	HeaderOnBehalfOfDelegatingTenant = "x-on-behalf-of-delegating-tenant"

	// Per-leaf prefixes for the opaque forwarded records.
	PrefixBaggage     = "x-baggage-"
	PrefixDebug       = "x-debug-"
	PrefixPerformance = "x-performance-"
	PrefixMonitoring  = "x-monitoring-"

	// DefaultExtensionPrefix namespaces user-defined extension headers.
	DefaultExtensionPrefix = "x-ext-"
)
