// Package loader furnishes the load manager with module code. Two loaders
// are provided: ScriptLoader reads Go source files from a local directory,
// HTTPLoader fetches them from a remote base URL with optional on-disk
// caching. Both evaluate fetched source in a fresh interpreter and report
// completion back through the Host.
package loader
