// Package domain defines the core notification types and the ports the rest of the service depends on.
//
// Concept-oriented files (topic.go, envelope.go, messages.go, ports.go, ...) hold shared types and
// cross-cutting interfaces. No infrastructure code lives here.
package domain
