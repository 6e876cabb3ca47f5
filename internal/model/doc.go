// Package model defines the data types shared across the acquisition pipeline.
//
// Conventions:
//   - Event fields are unsigned instrument counters, decoded little-endian
//   - Events are values: each consumer receives its own copy
//   - Filter parameters describe the instrument settings a run was taken with
package model
