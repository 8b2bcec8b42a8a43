/*
Package cache builds and serves immutable snapshots of version directories.

A Snapshot maps relative request paths to file entries for exactly one
(host, prefix, version). Files at or under the host's inline threshold are
held in memory, with gzip and brotli copies precomputed for compressible
extensions; larger files keep only their metadata and are read from disk per
request.

The Store holds one active snapshot pointer per domain key plus at most one
staged snapshot for a finished-but-inactive version. Publication is a single
atomic pointer swap: readers load the pointer once and keep the snapshot
alive for the duration of the request, so old snapshots are reclaimed by the
garbage collector when the last in-flight request drops them. The Store
implements storage.SnapshotHooks.
*/
package cache
