// Package model contains the shared interfaces and data structures.
//
// # Criteria for adding a type to this package
//
// This package should contain two kinds of types:
//
// 1. important interfaces that are shared by several packages
// within the codebase, with the objective of separating unrelated
// pieces of code and making unit testing easier;
//
// 2. important pieces of data that are shared across different
// packages (e.g., the representation of a Trial).
//
// In general, this package should not contain logic, unless
// this logic is strictly related to data structures and we
// cannot implement this logic elsewhere.
//
// # Content of this package
//
// - errors.go: the error taxonomy (configuration, trial and
// process lifecycle errors);
//
// - flow.go: the flow metrics derived from a capture;
//
// - logger.go: generic definition of an apex/log compatible logger;
//
// - mode.go: injector modes, levels and configurations;
//
// - trial.go: the trial record and its explicit outcome.
package model
