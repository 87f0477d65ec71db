package filesystem

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manualbox/manualbox/internal/gate"
	"github.com/manualbox/manualbox/internal/store"
	mberrors "github.com/manualbox/manualbox/pkg/errors"
)

type answeringProvider struct {
	mu      sync.Mutex
	answer  string
	prompts []gate.Prompt
}

func (p *answeringProvider) Decide(ctx context.Context, prompt gate.Prompt) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	return p.answer, nil
}

func (p *answeringProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

type testEnv struct {
	fs       *FileSystem
	provider *answeringProvider
	now      *time.Time
}

func newTestFS(t *testing.T, cfg Config, answer string) *testEnv {
	t.Helper()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	provider := &answeringProvider{answer: answer}
	st := store.New(nil, store.WithClock(clock), store.WithOwner(store.Owner{UID: 501, GID: 20}))
	g := gate.New(provider, gate.WithClock(clock))
	if cfg.MountPoint == "" {
		cfg.MountPoint = "/mnt/box"
	}
	return &testEnv{fs: New(st, g, cfg, nil, nil), provider: provider, now: &now}
}

func writeFile(t *testing.T, fs *FileSystem, path, content string) {
	t.Helper()
	ctx := context.Background()
	_, err := fs.Create(ctx, path, 0o644)
	require.NoError(t, err)
	_, err = fs.Write(ctx, path, []byte(content), 0)
	require.NoError(t, err)
}

func TestGetattrUnknownPath(t *testing.T) {
	env := newTestFS(t, Config{}, gate.Affirmative)

	_, err := env.fs.Getattr(context.Background(), "/missing")
	assert.Equal(t, mberrors.ErrCodeFileNotFound, mberrors.CodeOf(err))
}

func TestGetattrReportsOwner(t *testing.T) {
	env := newTestFS(t, Config{}, gate.Affirmative)
	ctx := context.Background()
	writeFile(t, env.fs, "/a", "hello")

	attr, err := env.fs.Getattr(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, store.ModeRegular|0o644, attr.Mode)
	assert.Equal(t, int64(5), attr.Size)
	assert.Equal(t, uint32(501), attr.UID)
	assert.Equal(t, uint32(20), attr.GID)

	// Symlinks carry no owner and report the mounting user.
	require.NoError(t, env.fs.Symlink(ctx, "/l", "/a"))
	attr, err = env.fs.Getattr(ctx, "/l")
	require.NoError(t, err)
	assert.Equal(t, store.CurrentOwner().UID, attr.UID)
}

func TestReadAuthorizesEveryCall(t *testing.T) {
	env := newTestFS(t, Config{Policy: gate.AuthorizeOnRead}, gate.Affirmative)
	ctx := context.Background()
	writeFile(t, env.fs, "/doc", "secret")

	fh, err := env.fs.Open(ctx, "/doc", os.O_RDONLY, Caller{PID: 42})
	require.NoError(t, err)
	assert.Equal(t, 0, env.provider.calls(), "open is free under AuthorizeOnRead")

	data, err := env.fs.Read(ctx, "/doc", fh, 3, 0, Caller{PID: 42})
	require.NoError(t, err)
	assert.Equal(t, "sec", string(data))

	data, err = env.fs.Read(ctx, "/doc", fh, 10, 3, Caller{PID: 42})
	require.NoError(t, err)
	assert.Equal(t, "ret", string(data))
	assert.Equal(t, 1, env.provider.calls(), "second read falls inside the window")

	require.Len(t, env.provider.prompts, 1)
	assert.Equal(t, "/mnt/box/doc", env.provider.prompts[0].DisplayPath)
}

func TestDeniedReadReturnsNoBytes(t *testing.T) {
	env := newTestFS(t, Config{Policy: gate.AuthorizeOnRead}, "no")
	ctx := context.Background()
	writeFile(t, env.fs, "/doc", "secret")

	fh, err := env.fs.Open(ctx, "/doc", os.O_RDONLY, Caller{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		data, err := env.fs.Read(ctx, "/doc", fh, 6, 0, Caller{})
		assert.Empty(t, data)
		assert.Equal(t, mberrors.ErrCodeAccessDenied, mberrors.CodeOf(err))
	}
	assert.Equal(t, 1, env.provider.calls())
}

func TestHandlesAreSeparateSessions(t *testing.T) {
	env := newTestFS(t, Config{Policy: gate.AuthorizeOnRead, Keying: gate.KeyByHandle}, gate.Affirmative)
	ctx := context.Background()
	writeFile(t, env.fs, "/doc", "x")

	fh1, err := env.fs.Open(ctx, "/doc", os.O_RDONLY, Caller{PID: 7})
	require.NoError(t, err)
	fh2, err := env.fs.Open(ctx, "/doc", os.O_RDONLY, Caller{PID: 7})
	require.NoError(t, err)
	assert.NotEqual(t, fh1, fh2)

	_, err = env.fs.Read(ctx, "/doc", fh1, 1, 0, Caller{PID: 7})
	require.NoError(t, err)
	_, err = env.fs.Read(ctx, "/doc", fh2, 1, 0, Caller{PID: 7})
	require.NoError(t, err)
	assert.Equal(t, 2, env.provider.calls())
}

func TestProcessKeyingSharesDecisions(t *testing.T) {
	env := newTestFS(t, Config{Policy: gate.AuthorizeOnRead, Keying: gate.KeyByProcess}, gate.Affirmative)
	ctx := context.Background()
	writeFile(t, env.fs, "/doc", "x")

	for i := 0; i < 3; i++ {
		fh, err := env.fs.Open(ctx, "/doc", os.O_RDONLY, Caller{PID: 7})
		require.NoError(t, err)
		_, err = env.fs.Read(ctx, "/doc", fh, 1, 0, Caller{PID: 7})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, env.provider.calls())

	fh, err := env.fs.Open(ctx, "/doc", os.O_RDONLY, Caller{PID: 8})
	require.NoError(t, err)
	_, err = env.fs.Read(ctx, "/doc", fh, 1, 0, Caller{PID: 8})
	require.NoError(t, err)
	assert.Equal(t, 2, env.provider.calls())
}

func TestOpenPolicy(t *testing.T) {
	t.Run("granted open makes reads free", func(t *testing.T) {
		env := newTestFS(t, Config{Policy: gate.AuthorizeOnOpen}, gate.Affirmative)
		ctx := context.Background()
		writeFile(t, env.fs, "/doc", "secret")

		fh, err := env.fs.Open(ctx, "/doc", os.O_RDONLY, Caller{})
		require.NoError(t, err)
		assert.Equal(t, 1, env.provider.calls())

		*env.now = env.now.Add(time.Hour)
		data, err := env.fs.Read(ctx, "/doc", fh, 6, 0, Caller{})
		require.NoError(t, err)
		assert.Equal(t, "secret", string(data))
		assert.Equal(t, 1, env.provider.calls())
	})

	t.Run("denied open fails", func(t *testing.T) {
		env := newTestFS(t, Config{Policy: gate.AuthorizeOnOpen}, "nope")
		ctx := context.Background()
		writeFile(t, env.fs, "/doc", "secret")

		fh, err := env.fs.Open(ctx, "/doc", os.O_RDWR, Caller{})
		assert.Zero(t, fh)
		assert.Equal(t, mberrors.ErrCodeAccessDenied, mberrors.CodeOf(err))
	})

	t.Run("write-only open is not gated", func(t *testing.T) {
		env := newTestFS(t, Config{Policy: gate.AuthorizeOnOpen}, "nope")
		ctx := context.Background()
		writeFile(t, env.fs, "/doc", "secret")

		_, err := env.fs.Open(ctx, "/doc", os.O_WRONLY|os.O_APPEND, Caller{})
		require.NoError(t, err)
		assert.Equal(t, 0, env.provider.calls())
	})
}

func TestOpenUnknownPath(t *testing.T) {
	env := newTestFS(t, Config{Policy: gate.AuthorizeOnOpen}, gate.Affirmative)

	_, err := env.fs.Open(context.Background(), "/missing", os.O_RDONLY, Caller{})
	assert.Equal(t, mberrors.ErrCodeFileNotFound, mberrors.CodeOf(err))
	assert.Equal(t, 0, env.provider.calls())
}

func TestMutationsAreNotGated(t *testing.T) {
	env := newTestFS(t, Config{Policy: gate.AuthorizeOnRead}, "never")
	ctx := context.Background()
	fs := env.fs

	require.NoError(t, fs.Mkdir(ctx, "/d", 0o755))
	writeFile(t, fs, "/d/f", "hello")
	require.NoError(t, fs.Truncate(ctx, "/d/f", 3))
	require.NoError(t, fs.Chmod(ctx, "/d/f", 0o600))
	require.NoError(t, fs.Chown(ctx, "/d/f", 1, 2))
	require.NoError(t, fs.Utimens(ctx, "/d/f", nil, nil))
	require.NoError(t, fs.SetXattr(ctx, "/d/f", "user.tag", []byte("v")))
	require.NoError(t, fs.Rename(ctx, "/d/f", "/d/g"))
	require.NoError(t, fs.Symlink(ctx, "/link", "/d/g"))
	require.NoError(t, fs.Unlink(ctx, "/link"))
	require.NoError(t, fs.RemoveXattr(ctx, "/d/g", "user.tag"))
	require.NoError(t, fs.Unlink(ctx, "/d/g"))
	require.NoError(t, fs.Rmdir(ctx, "/d"))

	assert.Equal(t, 0, env.provider.calls())
}

func TestReaddir(t *testing.T) {
	env := newTestFS(t, Config{}, gate.Affirmative)
	ctx := context.Background()
	fs := env.fs

	require.NoError(t, fs.Mkdir(ctx, "/a", 0o755))
	require.NoError(t, fs.Mkdir(ctx, "/a/b", 0o755))
	writeFile(t, fs, "/z", "")

	entries, err := fs.Readdir(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []DirEntry{
		{Name: ".", Mode: store.ModeDir},
		{Name: "..", Mode: store.ModeDir},
		{Name: "a", Mode: store.ModeDir | 0o755},
		{Name: "z", Mode: store.ModeRegular | 0o644},
	}, entries)

	entries, err = fs.Readdir(ctx, "/a")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "b", entries[2].Name)

	_, err = fs.Readdir(ctx, "/nope")
	assert.Equal(t, mberrors.ErrCodeFileNotFound, mberrors.CodeOf(err))

	_, err = fs.Readdir(ctx, "/z")
	assert.Equal(t, mberrors.ErrCodePathInvalid, mberrors.CodeOf(err))
}

func TestXattrs(t *testing.T) {
	env := newTestFS(t, Config{}, gate.Affirmative)
	ctx := context.Background()
	writeFile(t, env.fs, "/f", "")

	require.NoError(t, env.fs.SetXattr(ctx, "/f", "user.b", []byte("2")))
	require.NoError(t, env.fs.SetXattr(ctx, "/f", "user.a", []byte("1")))

	v, err := env.fs.GetXattr(ctx, "/f", "user.a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	names, err := env.fs.ListXattr(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, []string{"user.a", "user.b"}, names)

	_, err = env.fs.GetXattr(ctx, "/f", "user.none")
	assert.Equal(t, mberrors.ErrCodeNoAttribute, mberrors.CodeOf(err))
}

func TestReadlink(t *testing.T) {
	env := newTestFS(t, Config{Policy: gate.AuthorizeOnRead}, "no")
	ctx := context.Background()

	require.NoError(t, env.fs.Symlink(ctx, "/l", "/target"))
	target, err := env.fs.Readlink(ctx, "/l")
	require.NoError(t, err)
	assert.Equal(t, "/target", target)
}

func TestStatfsPlaceholder(t *testing.T) {
	env := newTestFS(t, Config{StatfsMode: StatfsPlaceholder}, gate.Affirmative)

	info, err := env.fs.Statfs(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, uint32(512), info.BlockSize)
	assert.Equal(t, uint64(4096), info.Blocks)
	assert.Equal(t, uint64(2048), info.BlocksFree)
	assert.Equal(t, uint64(2048), info.BlocksAvail)
	assert.Equal(t, uint64(1), info.Files)
}

func TestStatfsPassthroughFallsBack(t *testing.T) {
	env := newTestFS(t, Config{
		StatfsMode: StatfsPassthrough,
		StatfsPath: "/definitely/not/a/real/dir",
	}, gate.Affirmative)

	info, err := env.fs.Statfs(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), info.Blocks)
}

func TestStatfsPassthrough(t *testing.T) {
	env := newTestFS(t, Config{StatfsMode: StatfsPassthrough, StatfsPath: t.TempDir()}, gate.Affirmative)

	info, err := env.fs.Statfs(context.Background(), "/")
	require.NoError(t, err)
	assert.NotZero(t, info.BlockSize)
	assert.NotZero(t, info.Blocks)
}
