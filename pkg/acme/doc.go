/*
Package acme drives automatic certificate issuance and renewal.

The engine owns one CA account per (environment, emails) tuple, persisted as
a JSON credentials blob under the acme directory and created on first use.
Managed hosts are the union of hosts with a loaded certificate and hosts
discovered from the version index, minus hosts with ACME disabled and alias
names (aliases ride along as extra SANs of their primary's order).

Issuance runs the RFC 8555 HTTP-01 flow against the configured directory:
authorize an order, write the key authorization to a token file the HTTP
listener serves under /.well-known/acme-challenge/, accept the challenges,
poll the order with capped exponential backoff, finalize with a fresh CSR,
persist the PEM pair atomically, and install the certificate into the SNI
store. Failures are logged and retried on the next tick; they never touch an
already installed certificate.

A renewal pass is triggered by a daily cron tick, by hot reload, and by the
activation of a brand-new domain (through the event broker). Between hosts
the engine sleeps to stay clear of CA rate limits.
*/
package acme
