// Package module holds the bookkeeping for individual loadable modules: the
// per-module record with its dependency ids, fetch locations, load state,
// and parked callbacks, plus the registry that maps ids to records and the
// shared context handed to load callbacks.
package module
