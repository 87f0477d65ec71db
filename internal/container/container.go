// Package container reads and writes the encrypted file that holds a
// manualbox filesystem between mounts.
//
// A container is the node and content tables encoded as deterministic
// CBOR, compressed with zstd and sealed with age. Sealing uses either an
// X25519 identity, generated for new containers, or a passphrase.
package container

import (
	"os"
	"path/filepath"
	"time"

	"github.com/manualbox/manualbox/internal/store"
	"github.com/manualbox/manualbox/pkg/errors"
)

// Exists reports whether a container file is present at path.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, errors.ErrCodeContainerRead, "stat container").
		WithComponent("container").
		WithContext("path", path)
}

// Load reads and decrypts the container at path. A missing file yields
// tables holding only the root directory.
func Load(path string, key *Key) (*store.Tables, error) {
	ciphertext, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store.NewTables(time.Now()), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeContainerRead, "read container").
			WithComponent("container").
			WithOperation("load").
			WithContext("path", path)
	}

	plaintext, err := open(ciphertext, key)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidKey, "wrong key").
			WithComponent("container").
			WithOperation("load").
			WithContext("path", path)
	}

	tables, err := decode(plaintext)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedContainer, "malformed container").
			WithComponent("container").
			WithOperation("load").
			WithContext("path", path)
	}
	return tables, nil
}

// Save seals tables with key and atomically replaces the file at path. It
// returns the number of bytes written.
func Save(path string, tables *store.Tables, key *Key) (int64, error) {
	fail := func(err error, msg string) (int64, error) {
		return 0, errors.Wrap(err, errors.ErrCodeContainerWrite, msg).
			WithComponent("container").
			WithOperation("save").
			WithContext("path", path)
	}

	plaintext, err := encode(tables)
	if err != nil {
		return fail(err, "encode container")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fail(err, "create temporary file")
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0600); err != nil {
		return fail(err, "chmod temporary file")
	}
	if err := seal(tmp, plaintext, key); err != nil {
		return fail(err, "seal container")
	}
	if err := tmp.Sync(); err != nil {
		return fail(err, "sync temporary file")
	}
	info, err := tmp.Stat()
	if err != nil {
		return fail(err, "stat temporary file")
	}
	if err := tmp.Close(); err != nil {
		return fail(err, "close temporary file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fail(err, "replace container")
	}
	committed = true

	syncDir(dir)
	return info.Size(), nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
