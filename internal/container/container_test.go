package container

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manualbox/manualbox/internal/store"
	mberrors "github.com/manualbox/manualbox/pkg/errors"
)

func populated(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(nil)
	require.NoError(t, s.Mkdir("/docs", 0o755))
	_, err := s.Create("/docs/secret.txt", 0o600)
	require.NoError(t, err)
	_, err = s.Write("/docs/secret.txt", []byte("the launch codes"), 0)
	require.NoError(t, err)
	require.NoError(t, s.SetXattr("/docs/secret.txt", "user.tag", []byte{0, 1, 2}))
	require.NoError(t, s.Symlink("/latest", "docs/secret.txt"))
	return s
}

func passphraseKey(t *testing.T, pass string) *Key {
	t.Helper()
	k, err := ParseKey(pass)
	require.NoError(t, err)
	k.SetWorkFactor(10)
	return k
}

func TestParseKey(t *testing.T) {
	generated, err := GenerateKey()
	require.NoError(t, err)
	assert.False(t, generated.IsPassphrase())

	parsed, err := ParseKey(" " + generated.Secret() + "\n")
	require.NoError(t, err)
	assert.False(t, parsed.IsPassphrase())
	assert.Equal(t, generated.Secret(), parsed.Secret())

	pass, err := ParseKey("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, pass.IsPassphrase())

	_, err = ParseKey("   ")
	assert.Error(t, err)

	_, err = ParseKey("AGE-SECRET-KEY-1NOTAKEY")
	assert.Error(t, err)

	assert.NotContains(t, generated.String(), generated.Secret())
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "box")
	exists, err := Exists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	tables, err := Load(path, key)
	require.NoError(t, err)
	require.Len(t, tables.Nodes, 1)
	assert.True(t, tables.Nodes["/"].IsDir())
	assert.Empty(t, tables.Data)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		key  func(t *testing.T) *Key
	}{
		{
			name: "x25519 identity",
			key: func(t *testing.T) *Key {
				k, err := GenerateKey()
				require.NoError(t, err)
				return k
			},
		},
		{
			name: "passphrase",
			key: func(t *testing.T) *Key {
				return passphraseKey(t, "hunter2")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := tt.key(t)
			s := populated(t)
			path := filepath.Join(t.TempDir(), ".manualbox")

			n, err := Save(path, s.Snapshot(), key)
			require.NoError(t, err)
			assert.Positive(t, n)

			exists, err := Exists(path)
			require.NoError(t, err)
			assert.True(t, exists)

			tables, err := Load(path, key)
			require.NoError(t, err)

			want := s.Snapshot()
			assert.Equal(t, want.Data, tables.Data)
			require.Len(t, tables.Nodes, len(want.Nodes))
			for p, wn := range want.Nodes {
				got := tables.Nodes[p]
				require.NotNil(t, got, p)
				assert.Equal(t, wn.Mode, got.Mode, p)
				assert.Equal(t, wn.Nlink, got.Nlink, p)
				assert.Equal(t, wn.Size, got.Size, p)
				assert.Equal(t, wn.Owner, got.Owner, p)
				assert.Equal(t, wn.Xattrs, got.Xattrs, p)
				assert.True(t, wn.Mtime.Equal(got.Mtime), p)
				assert.True(t, wn.Ctime.Equal(got.Ctime), p)
				assert.True(t, wn.Atime.Equal(got.Atime), p)
			}

			restored := store.New(tables)
			assert.Equal(t, []byte("the launch codes"), restored.Read("/docs/secret.txt", 0, 100))
		})
	}
}

func TestSaveLoadManyNodes(t *testing.T) {
	if testing.Short() {
		t.Skip("large container")
	}
	key, err := GenerateKey()
	require.NoError(t, err)

	const count = 140000
	tables := store.NewTables(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	for i := 0; i < count; i++ {
		p := fmt.Sprintf("/f%06d", i)
		tables.Nodes[p] = &store.Node{Mode: store.ModeRegular | 0o600, Nlink: 1, Size: 1}
		tables.Data[p] = []byte{byte(i)}
	}

	path := filepath.Join(t.TempDir(), ".manualbox")
	_, err = Save(path, tables, key)
	require.NoError(t, err)

	loaded, err := Load(path, key)
	require.NoError(t, err)
	assert.Len(t, loaded.Nodes, count+1)
	assert.Len(t, loaded.Data, count)
	last := count - 1
	assert.Equal(t, []byte{byte(last)}, loaded.Data[fmt.Sprintf("/f%06d", last)])
}

func TestLoadWrongKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	other, err := GenerateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), ".manualbox")
	_, err = Save(path, populated(t).Snapshot(), key)
	require.NoError(t, err)

	tables, err := Load(path, other)
	assert.Nil(t, tables)
	assert.True(t, errors.Is(err, mberrors.ErrInvalidKey))

	tables, err = Load(path, passphraseKey(t, "not it"))
	assert.Nil(t, tables)
	assert.True(t, errors.Is(err, mberrors.ErrInvalidKey))
}

func TestLoadWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".manualbox")
	_, err := Save(path, populated(t).Snapshot(), passphraseKey(t, "right"))
	require.NoError(t, err)

	_, err = Load(path, passphraseKey(t, "wrong"))
	assert.True(t, errors.Is(err, mberrors.ErrInvalidKey))
}

func TestLoadTamperedContainer(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), ".manualbox")
	_, err = Save(path, populated(t).Snapshot(), key)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = Load(path, key)
	assert.True(t, errors.Is(err, mberrors.ErrInvalidKey))
}

func TestLoadMalformedPlaintext(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "not zstd", plaintext: []byte("definitely not a container")},
		{name: "not cbor", plaintext: encoder.EncodeAll([]byte{0xff, 0xff, 0xff}, nil)},
		{name: "no root", plaintext: func() []byte {
			raw, err := encMode.Marshal(envelope{Version: FormatVersion, Nodes: map[string]*store.Node{}})
			require.NoError(t, err)
			return encoder.EncodeAll(raw, nil)
		}()},
		{name: "future version", plaintext: func() []byte {
			tables := store.NewTables(time.Now())
			raw, err := encMode.Marshal(envelope{Version: FormatVersion + 1, Nodes: tables.Nodes})
			require.NoError(t, err)
			return encoder.EncodeAll(raw, nil)
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, seal(&buf, tt.plaintext, key))
			path := filepath.Join(t.TempDir(), ".manualbox")
			require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))

			tables, err := Load(path, key)
			assert.Nil(t, tables)
			assert.True(t, errors.Is(err, mberrors.ErrMalformedContainer), "got %v", err)
		})
	}
}

func TestSaveReplacesAtomically(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, ".manualbox")

	_, err = Save(path, store.NewTables(time.Now()), key)
	require.NoError(t, err)
	_, err = Save(path, populated(t).Snapshot(), key)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".manualbox", entries[0].Name())

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	tables, err := Load(path, key)
	require.NoError(t, err)
	assert.Contains(t, tables.Nodes, "/docs/secret.txt")
}

func TestSaveIntoMissingDirectory(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nope", ".manualbox")
	_, err = Save(path, store.NewTables(time.Now()), key)
	assert.Error(t, err)
	assert.Equal(t, mberrors.ErrCodeContainerWrite, mberrors.CodeOf(err))
}
