package rowguard

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ============================================================================
// SIGNED SCHEMA BUNDLES
// ============================================================================

// SignedSchemaBundle carries a set of table schemas with a per-table ed25519
// signature over each schema's checksum. Receivers verify before loading, so
// a tampered schema never reaches the compiler.
type SignedSchemaBundle struct {
	Tables     []*TableSchema    `json:"tables"`
	Signatures map[string]string `json:"signatures"` // table name -> base64(sig)
	Meta       map[string]any    `json:"meta,omitempty"`
}

// SignSchema returns an ed25519 signature (base64) over the schema name and
// checksum.
func SignSchema(priv ed25519.PrivateKey, t *TableSchema) (string, error) {
	data, err := json.Marshal(struct {
		Name     string
		Checksum string
	}{
		Name:     t.Name,
		Checksum: t.Checksum(),
	})
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, data)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifySchemaSignature checks one schema's signature against a public key.
func VerifySchemaSignature(pub ed25519.PublicKey, t *TableSchema, sigB64 string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(struct {
		Name     string
		Checksum string
	}{
		Name:     t.Name,
		Checksum: t.Checksum(),
	})
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, data, sig), nil
}

// SignBundle signs every table with priv and returns the bundle.
func SignBundle(priv ed25519.PrivateKey, tables []*TableSchema) (*SignedSchemaBundle, error) {
	b := &SignedSchemaBundle{Tables: tables, Signatures: make(map[string]string)}
	for _, t := range tables {
		s, err := SignSchema(priv, t)
		if err != nil {
			return nil, err
		}
		b.Signatures[t.Name] = s
	}
	return b, nil
}

// VerifyBundle verifies every signature with the given public key.
func VerifyBundle(pub ed25519.PublicKey, b *SignedSchemaBundle) (bool, error) {
	for _, t := range b.Tables {
		sig, ok := b.Signatures[t.Name]
		if !ok {
			return false, fmt.Errorf("missing signature for table %s", t.Name)
		}
		okv, err := VerifySchemaSignature(pub, t, sig)
		if err != nil || !okv {
			return false, fmt.Errorf("bad signature for table %s: %v", t.Name, err)
		}
	}
	return true, nil
}

// ApplySignedBundle verifies the bundle and loads its tables as the new
// workspace schema. Verification failure leaves the current snapshot in
// place.
func (e *Engine) ApplySignedBundle(ctx context.Context, pub ed25519.PublicKey, bundle *SignedSchemaBundle) error {
	ok, err := VerifyBundle(pub, bundle)
	if err != nil || !ok {
		return fmt.Errorf("bundle verification failed: %v", err)
	}
	return e.LoadTables(ctx, bundle.Tables...)
}
