// Package types defines the shared vocabulary of storagecore: database
// type and status enums, transaction states, structured errors, and the
// snapshot structs returned by status queries.
//
// It has no dependencies on the pool or coordinator packages and may be
// imported from anywhere in the module.
package types
