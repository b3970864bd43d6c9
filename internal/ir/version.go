package ir

// Version constants for the persisted schema and the tool.
const (
	// SchemaVersion is bumped whenever the digest inputs or the snapshot
	// layout change.
	SchemaVersion = "1"

	// ToolVersion is the sigil release version.
	ToolVersion = "0.1.0"
)
