// Package config loads and persists the orchestrator configuration
// (orchestrator.json) and resolves per-session permission modes and
// per-directory tool servers from it.
package config
