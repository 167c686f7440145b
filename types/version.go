package types

// Version is the canonical project version.
// The CLI and the stream protocol helpers share this version.
const Version = "0.2.0"
