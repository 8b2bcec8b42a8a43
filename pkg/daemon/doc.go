// Package daemon assembles the process: configuration, storage index,
// snapshot cache, certificate store, ACME engine, public listeners, admin
// API, version GC, and the hot-reload path that replaces all of it
// without dropping connections.
package daemon
