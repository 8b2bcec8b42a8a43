/*
Package types defines the shared domain model for Hutch.

These are the vocabulary types every component speaks: domain keys, version
statuses, upload positions, and the JSON shapes exchanged over the admin API.
The package has no behavior beyond parsing and encoding; state lives in
pkg/storage and pkg/cache.

# Core Types

DomainKey:
  - (host, prefix) pair identifying one served site
  - prefix empty: the key owns the whole host (single-tenant)
  - prefix set: one leading path segment, e.g. "a.example.com/27"
  - within one host, root and prefixed keys never coexist

VersionStatus:
  - Uploading (0): receiving files, invisible to serving
  - Finish (1): immutable, eligible for activation
  - the numeric form is the admin wire encoding; JSON output uses the name

UploadPosition:
  - answer to "where does my next upload go"
  - status distinguishes NewDomain / NewVersion / InUploading

DomainInfo, VersionInfo, FileMeta, CertInfo:
  - admin API response shapes; see pkg/admin

ACMEEnvironment:
  - stage / prod / ci, part of certificate and account filenames

# Version Lifecycle

	ParseDomainKey("a.example.com/27")
	        │
	        ▼
	 upload position ──▶ version N, StatusUploading
	        │
	   put files
	        │
	        ▼
	 StatusFinish ──▶ activation candidate
	        │
	        ▼
	    current ◀── activate / revoke (atomic pointer swap)
*/
package types
