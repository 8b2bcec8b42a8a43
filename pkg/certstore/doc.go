/*
Package certstore holds the TLS certificates served on the HTTPS listener.

The SNIStore maps server names to certificates with an optional default used
when the ClientHello name misses. Lookups happen on the handshake path and
are lock-free; installation replaces individual entries and is how the ACME
engine rotates certificates without a listener restart.

Two Resolver variants exist behind one interface: Fixed always returns a
single externally managed certificate, SNIStore resolves by server name with
the default as fallback. PEM persistence uses write-to-temp plus rename so a
crash never leaves a torn certificate file.
*/
package certstore
