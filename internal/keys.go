package internal

// CtxKey are the context keys shared by the deployment packages
type CtxKey uint8

const (
	// PublisherKey for the event publisher in the context
	PublisherKey CtxKey = iota
	// LoggerKey for the logger in the context
	LoggerKey
	// RunIDKey for the identifier of the current run
	RunIDKey
)
