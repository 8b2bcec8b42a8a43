package certstore

import (
	"crypto/tls"
	"os"
	"path/filepath"

	"github.com/cuemby/hutch/pkg/errdefs"
)

// LoadPair loads a PEM certificate chain and private key from disk and
// parses the leaf.
func LoadPair(certPath, keyPath, source string) (*Certified, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, errdefs.ErrIO.New("load certificate %s: %v", certPath, err)
	}
	return NewCertified(&cert, source)
}

// WritePair persists a PEM chain and key. Each file is written to a
// temporary sibling and renamed into place so readers never observe a torn
// file.
func WritePair(certPath, keyPath string, certPEM, keyPEM []byte) error {
	if err := writeAtomic(certPath, certPEM, 0644); err != nil {
		return err
	}
	return writeAtomic(keyPath, keyPEM, 0600)
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errdefs.ErrIO.New("create temp for %s: %v", path, err)
	}
	name := tmp.Name()
	_, werr := tmp.Write(data)
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(name, mode)
	}
	if werr == nil {
		werr = os.Rename(name, path)
	}
	if werr != nil {
		os.Remove(name)
		return errdefs.ErrIO.New("write %s: %v", path, werr)
	}
	return nil
}
