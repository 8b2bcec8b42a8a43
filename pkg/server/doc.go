/*
Package server is the public serving path: listeners, routing, and the
conditional response logic.

Every request walks the same pipeline on both schemes: the ACME challenge
fast path, host extraction and alias resolution, the optional HTTP-to-HTTPS
redirect, longest-prefix matching for multi-tenant hosts, the /_version
probe, snapshot lookup with the trailing-slash redirect, and finally the
conditional response (validators, single byte ranges, compression
negotiation, client-cache headers).

The router reads exactly one atomic pointer per request: its RouterConfig,
swapped wholesale during hot reload. Snapshot lookups go through the cache
store's own atomic pointers. No request ever takes a lock shared with the
admin mutation path.

Listeners bind with SO_REUSEPORT so a reload can bind replacements before
the old listeners drain, and are optionally capped with a connection limit.
*/
package server
