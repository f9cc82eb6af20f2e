// Package store defines persistence interfaces for resolution history.
// Implementations live elsewhere; this package must not import drivers.
package store
