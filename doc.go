// Package eventcore is an event store for event-sourced Go services.
package eventcore

import (
	// Eventstore package - streams, the global playhead, transaction scopes and the backends
	_ "github.com/GabrielCarpr/eventcore/eventstore"
	// Subscription package - durable catch-up cursors and the workers that follow them
	_ "github.com/GabrielCarpr/eventcore/subscription"
	// Upcast package - read-time migration of stored payloads
	_ "github.com/GabrielCarpr/eventcore/upcast"
	// Registry package - storage tags to Go types
	_ "github.com/GabrielCarpr/eventcore/registry"
	// Publish package - forwards committed records to watermill
	_ "github.com/GabrielCarpr/eventcore/publish"
	// Log package - a basic global logger
	_ "github.com/GabrielCarpr/eventcore/log"
)
