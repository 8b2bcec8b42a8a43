/*
Package errdefs defines the error taxonomy shared by all Hutch components.

Every failure that crosses a package boundary is wrapped into one of a small
set of error classes. The admin API maps classes to HTTP status codes and
returns the error text as a plain-text body; the serving path never exposes
error text to clients and maps everything to a bare status code.

# Classes

  - ErrBadRequest: malformed parameters, uploads to an alias host, mixed
    root/prefix domains, path escapes
  - ErrNotFound: unknown domain, unknown version, missing file
  - ErrConflict: status transitions the current state forbids, such as
    writing into a finished version
  - ErrUnauthorized: admin token mismatch
  - ErrIO: disk read or write failures
  - ErrACME: certificate issuance failures; always retried, never fatal
  - ErrFatal: unrecoverable startup errors (bind failure, corrupt config)

# Usage

	if key.Host == "" {
		return errdefs.ErrBadRequest.New("domain is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return errdefs.ErrIO.Wrap(err)
	}

	// admin handler boundary
	http.Error(w, errdefs.Reason(err), errdefs.HTTPStatus(err))

Classes come from github.com/zeebo/errs and compose with the standard
errors.Is/errors.As machinery.
*/
package errdefs
