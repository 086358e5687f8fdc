// Package domain contains the value types shared by the rebalancer's planner,
// engine and collaborators, and the errors they report.
package domain

import "errors"

// Planning errors
var (
	// ErrInvalidSnapshot is returned when an inventory snapshot is internally
	// inconsistent. Planning aborts and no partial plan is returned.
	ErrInvalidSnapshot = errors.New("invalid inventory snapshot")

	// ErrSimulationInvariant is returned when a generated plan fails its own
	// simulation. The plan is discarded.
	ErrSimulationInvariant = errors.New("simulation invariant violated")

	// ErrInvalidConfig is returned when a planner configuration is out of range.
	ErrInvalidConfig = errors.New("invalid planner configuration")
)

// Common errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrUnavailable is returned when a service or resource is unavailable.
	ErrUnavailable = errors.New("service unavailable")
)
