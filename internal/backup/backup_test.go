package backup_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/hlink/internal/backup"
	"github.com/bamsammich/hlink/internal/record"
)

func openStore(t *testing.T) *record.Store {
	t.Helper()
	s, err := record.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord() record.Record {
	return record.Record{
		Task:        "movies",
		Fingerprint: "abc123",
		Entries: []record.Entry{
			{Source: "/src/a.mkv", Dest: "/out/a.mkv", Sig: &record.Signature{ModTime: 42, Size: 7}},
			{Source: "/src/b.mkv", Dest: "/out/b.mkv"},
		},
	}
}

func TestCreateRestore(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)
	require.NoError(t, src.Commit(ctx, sampleRecord(), []string{"/out/old.mkv"}))

	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[[task]]\nname = \"movies\"\n"), 0o644))

	var buf bytes.Buffer
	created, err := backup.Create(ctx, src, cfgPath, &buf)
	require.NoError(t, err)
	assert.False(t, created.Created.IsZero())

	dst := openStore(t)
	require.NoError(t, dst.Commit(ctx, record.Record{Task: "stale"}, nil))

	got, err := backup.Restore(ctx, dst, &buf)
	require.NoError(t, err)
	assert.Equal(t, "[[task]]\nname = \"movies\"\n", string(got.Config))
	assert.Equal(t, created.Created.UnixNano(), got.Created.UnixNano())

	rec, err := dst.Load(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, sampleRecord(), rec)

	pending, err := dst.Pending(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, []string{"/out/old.mkv"}, pending)

	tasks, err := dst.Tasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"movies"}, tasks)
}

func TestCreateWithoutConfig(t *testing.T) {
	var buf bytes.Buffer
	_, err := backup.Create(context.Background(), openStore(t), filepath.Join(t.TempDir(), "missing.toml"), &buf)
	require.NoError(t, err)

	a, err := backup.Read(&buf)
	require.NoError(t, err)
	assert.Nil(t, a.Config)
	assert.Empty(t, a.State.Records)
}

func TestReadRejectsForeignInput(t *testing.T) {
	_, err := backup.Read(bytes.NewReader([]byte("short")))
	require.ErrorIs(t, err, backup.ErrFormat)

	_, err = backup.Read(bytes.NewReader([]byte("NOTANHLINKARCHIVE-------")))
	require.ErrorIs(t, err, backup.ErrFormat)
}

func TestReadDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, backup.Write(&buf, backup.Archive{
		State: record.State{Records: []record.Record{sampleRecord()}},
	}))
	data := buf.Bytes()
	data[10] ^= 0xFF // inside the checksum

	_, err := backup.Read(bytes.NewReader(data))
	assert.ErrorIs(t, err, backup.ErrChecksum)
}
