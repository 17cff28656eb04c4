// Package vm provides high-level VM lifecycle management.
// It combines the definition store, the command builder and the process
// supervisor into named operations, and publishes state changes on an
// event bus.
package vm
