// Package event defines the normalized events a session orchestrator emits,
// their JSON envelope, and a fan-out bus built on watermill.
//
// Event is a closed union. Consumers either type-switch on it or implement
// Handler and call Dispatch, which is checked at compile time to cover every
// kind.
package event
