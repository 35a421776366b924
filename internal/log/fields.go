package log

// Canonical field name constants for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"

	// Buffer lifecycle
	FieldBufferID   = "buffer_id"
	FieldGeneration = "generation"
	FieldFrame      = "frame"
	FieldHeld       = "held"

	// Pipeline
	FieldState    = "state"
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldRestarts = "restarts"

	// Devices and backends
	FieldBackend    = "backend"
	FieldSource     = "source"
	FieldDevice     = "device"
	FieldResolution = "resolution"
	FieldFPS        = "fps"

	// Remote preview
	FieldPeer   = "peer"
	FieldRemote = "remote"
)
