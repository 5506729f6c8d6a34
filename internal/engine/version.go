package engine

// Version is the engine version reported to the tracer resource. Overridden
// at build time via -ldflags "-X ...engine.Version=v1.2.3".
var Version = "dev"
