package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTypeTag matches UnknownTypeTagError via errors.Is.
	ErrUnknownTypeTag = errors.New("unknown type tag")
	// ErrSimulationNotFound matches SimulationNotFoundError via errors.Is.
	ErrSimulationNotFound = errors.New("simulation not found")
	// ErrSimulationInfeasible marks a solve that reported an infeasible model.
	// The pipeline reports infeasibility as an outcome status; the error is
	// used where a status cannot be carried, such as worker task records.
	ErrSimulationInfeasible = errors.New("simulation infeasible")
	// ErrDatasetNotFound is returned when a dataset id does not resolve.
	ErrDatasetNotFound = errors.New("dataset not found")
	// ErrAttributeKindConflict rejects a bundle in which the same
	// (from, to, attribute) triple appears as both scalar and sequence.
	ErrAttributeKindConflict = errors.New("attribute stored as both scalar and sequence")
)

// UnknownTypeTagError is a fatal decode failure: the persisted tag was
// written by an incompatible codec version.
type UnknownTypeTagError struct {
	Tag string
}

func (e UnknownTypeTagError) Error() string {
	return fmt.Sprintf("unknown type tag %q", e.Tag)
}

// Is reports whether target is ErrUnknownTypeTag.
func (e UnknownTypeTagError) Is(target error) bool {
	return target == ErrUnknownTypeTag
}

// SimulationNotFoundError reports a lookup of a simulation id that does not exist.
type SimulationNotFoundError struct {
	ID int64
}

func (e SimulationNotFoundError) Error() string {
	return fmt.Sprintf("simulation %d not found", e.ID)
}

// Is reports whether target is ErrSimulationNotFound.
func (e SimulationNotFoundError) Is(target error) bool {
	return target == ErrSimulationNotFound
}

// AttributeKindConflictError names the triple that was stored as both kinds.
type AttributeKindConflictError struct {
	Edge      Edge
	Attribute string
}

func (e AttributeKindConflictError) Error() string {
	return fmt.Sprintf("attribute %q on %s stored as both scalar and sequence", e.Attribute, e.Edge)
}

// Is reports whether target is ErrAttributeKindConflict.
func (e AttributeKindConflictError) Is(target error) bool {
	return target == ErrAttributeKindConflict
}
