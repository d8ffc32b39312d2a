// Package environment manages execution environments: named directories of
// .star modules that sessions resolve load() against. Records live in a
// Store (gorm or memory); the Manager creates directories, validates and
// installs modules and resolves environments for the execution coordinator.
package environment
