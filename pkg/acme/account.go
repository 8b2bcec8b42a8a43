package acme

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"

	"golang.org/x/crypto/acme"

	"github.com/cuemby/hutch/pkg/errdefs"
)

// accountBlob is the persisted account credentials file. The private key is
// the account key, not a certificate key.
type accountBlob struct {
	KeyPEM       string   `json:"key_pem"`
	URL          string   `json:"url"`
	Emails       []string `json:"emails"`
	DirectoryURL string   `json:"directory_url"`
}

// loadAccountKey reads the persisted account, returning the key and the
// registration URL. ok is false when no account exists yet.
func loadAccountKey(path string) (*ecdsa.PrivateKey, string, bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, errdefs.ErrIO.New("read account %s: %v", path, err)
	}

	var blob accountBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, "", false, errdefs.ErrACME.New("corrupt account blob %s: %v", path, err)
	}
	block, _ := pem.Decode([]byte(blob.KeyPEM))
	if block == nil {
		return nil, "", false, errdefs.ErrACME.New("account blob %s has no PEM key", path)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, "", false, errdefs.ErrACME.New("parse account key in %s: %v", path, err)
	}
	return key, blob.URL, true, nil
}

// saveAccount persists the account credentials blob.
func saveAccount(path string, key *ecdsa.PrivateKey, url string, emails []string, directoryURL string) error {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return errdefs.ErrACME.New("marshal account key: %v", err)
	}
	blob := accountBlob{
		KeyPEM:       string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})),
		URL:          url,
		Emails:       emails,
		DirectoryURL: directoryURL,
	}
	raw, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return errdefs.ErrACME.New("encode account blob: %v", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return errdefs.ErrIO.New("write account %s: %v", path, err)
	}
	return nil
}

// ensureAccount loads or registers the CA account and returns a client
// carrying the account key. Registration accepts the CA's terms of service;
// the contact addresses come from configuration.
func (e *Engine) ensureAccount(ctx context.Context) (directoryClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}

	path := e.cfg.Layout.AccountPath(e.cfg.Env, e.cfg.DirectoryURL, e.cfg.Emails)
	key, _, ok, err := loadAccountKey(path)
	if err != nil {
		return nil, err
	}

	if !ok {
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, errdefs.ErrACME.New("generate account key: %v", err)
		}
	}

	client := e.newClient(key)
	if !ok {
		contacts := make([]string, 0, len(e.cfg.Emails))
		for _, email := range e.cfg.Emails {
			contacts = append(contacts, "mailto:"+email)
		}
		acct, err := client.Register(ctx, &acme.Account{Contact: contacts}, acme.AcceptTOS)
		if err != nil {
			return nil, errdefs.ErrACME.New("register account: %v", err)
		}
		if err := saveAccount(path, key, acct.URI, e.cfg.Emails, e.cfg.DirectoryURL); err != nil {
			return nil, err
		}
		e.logger.Info().Str("env", string(e.cfg.Env)).Msg("acme account registered")
	}

	e.client = client
	return client, nil
}
