package models

import "errors"

// Failure taxonomy shared by the pipeline stages
var (
	// ErrEmptySeries is returned when no input slices are supplied
	ErrEmptySeries = errors.New("empty slice series")

	// ErrInconsistentGeometry is returned when slices differ in row or column count
	ErrInconsistentGeometry = errors.New("inconsistent slice geometry")

	// ErrInvalidSpacing is returned when a voxel spacing is not strictly positive
	ErrInvalidSpacing = errors.New("invalid voxel spacing")

	// ErrMissingLocation is returned when slices cannot all be placed on the
	// scan axis by either position or slice location
	ErrMissingLocation = errors.New("slice has no scan-axis location")

	// ErrEmptyMask marks a tissue mask without any set voxel. It is never
	// fatal: the mask yields an empty mesh.
	ErrEmptyMask = errors.New("tissue mask is empty")
)
