package lsptypes

// Traits describe backend behaviors the session must adapt to.
type Traits struct {
	// RequiresDiskFiles means the server reads analyzed files from disk, so
	// document content must be mirrored to the workspace directory.
	RequiresDiskFiles bool

	// SupportsConfigurationChange means settings can be pushed through
	// workspace/didChangeConfiguration after startup.
	SupportsConfigurationChange bool

	// EchoesDocumentVersion means published diagnostics carry the document
	// version they were computed against, enabling staleness filtering.
	EchoesDocumentVersion bool
}

// Backend describes one language server product: how to launch it and how
// the session should talk to it. Implementations must be safe for reuse
// across sessions.
type Backend interface {
	// Name identifies the backend in logs and configuration.
	Name() string

	// LanguageID is the protocol language identifier of documents this
	// backend analyzes.
	LanguageID() string

	// LaunchInfo returns the command line for a server rooted at baseDir.
	// Equal results share pooled processes.
	LaunchInfo(baseDir string) LaunchInfo

	// ClientCapabilities returns backend-specific client capabilities,
	// merged over the session defaults before initialize.
	ClientCapabilities() map[string]any

	// InitializationOptions returns the initializationOptions value for
	// initialize, or nil.
	InitializationOptions() any

	// Settings returns the configuration pushed on didChangeConfiguration,
	// or nil.
	Settings() any

	// WriteConfig materializes the server's config file under baseDir
	// before launch. Backends without a config file return nil.
	WriteConfig(baseDir string) error

	// Traits reports the behaviors of this server.
	Traits() Traits
}
