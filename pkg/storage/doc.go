/*
Package storage owns the on-disk layout and the in-memory version index.

The filesystem is the only durable store. Every version of every domain key
lives under the file_dir root:

	<root>/<host>[/<prefix>]/<version>/<relative files...>
	<root>/acme/certificate_<env>_<host>.pem (and .key)
	<root>/acme/challenge/<host>_<token>.token
	<root>/acme/account_<env>_<base64url(url+","+emails)>

Version directories are written file-by-file while the version is Uploading;
there is no rename-into-place. Visibility is gated by the version status, not
by directory existence: a crashed upload leaves at most an Uploading version
that serving never sees. A .finish marker inside the version directory makes
the Finish status survive restarts; the boot scan treats directories without
it as still Uploading.

The Index serializes mutations per domain key and publishes the current
version through an atomic load, so the request path never takes a lock.
Snapshot lifecycle (build, publish, invalidate) is delegated through the
SnapshotHooks interface, implemented by pkg/cache.
*/
package storage
