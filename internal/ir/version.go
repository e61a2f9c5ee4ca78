package ir

// Version constants for payload schema and binary.
const (
	// SchemaVersion is written to the protected header of every record.
	SchemaVersion = "1"

	// Version is the mutual release version.
	Version = "0.1.0"
)
