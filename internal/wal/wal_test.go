package wal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvcore/internal/wal"
	"github.com/calvinalkan/kvcore/pkg/fs"
)

func openFresh(t *testing.T, dir string, cfg wal.Config) (*wal.WAL, []wal.Record) {
	t.Helper()

	var replayed []wal.Record

	w, err := wal.Open(fs.NewReal(), dir, cfg, func(r wal.Record) error {
		replayed = append(replayed, r)
		return nil
	})
	require.NoError(t, err)

	return w, replayed
}

// R3: WAL encode -> decode is the identity for every well-formed record.
func TestWAL_R3_EncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	w, _ := openFresh(t, dir, wal.Config{SyncPolicy: wal.SyncEveryWrite})

	seq1, err := w.Append(wal.KindPut, []byte("alpha"), []byte("1"))
	require.NoError(t, err)
	require.EqualValues(t, 1, seq1)

	seq2, err := w.Append(wal.KindDelete, []byte("beta"), nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, seq2)

	require.NoError(t, w.Close())

	_, replayed := openFresh(t, dir, wal.Config{})
	require.Len(t, replayed, 2)

	require.Equal(t, wal.KindPut, replayed[0].Kind)
	require.EqualValues(t, 1, replayed[0].Sequence)
	require.Equal(t, []byte("alpha"), replayed[0].Key)
	require.Equal(t, []byte("1"), replayed[0].Value)

	require.Equal(t, wal.KindDelete, replayed[1].Kind)
	require.EqualValues(t, 2, replayed[1].Sequence)
	require.Equal(t, []byte("beta"), replayed[1].Key)
	require.Empty(t, replayed[1].Value)
}

// Scenario D: a flipped CRC on the final record must not fail Open; state
// reflects everything before it, and next_sequence continues past the
// last good record.
func TestWAL_ScenarioD_CorruptTailTruncation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	w, _ := openFresh(t, dir, wal.Config{SyncPolicy: wal.SyncEveryWrite})

	_, err := w.Append(wal.KindPut, []byte("a"), []byte("1"))
	require.NoError(t, err)

	_, err = w.Append(wal.KindPut, []byte("b"), []byte("2"))
	require.NoError(t, err)

	require.NoError(t, w.Close())

	corruptLastByte(t, dir)

	w2, replayed := openFresh(t, dir, wal.Config{SyncPolicy: wal.SyncEveryWrite})
	require.Len(t, replayed, 1, "only the first, uncorrupted record should replay")
	require.Equal(t, []byte("a"), replayed[0].Key)

	require.EqualValues(t, 2, w2.NextSequence())

	seq, err := w2.Append(wal.KindPut, []byte("c"), []byte("3"))
	require.NoError(t, err)
	require.EqualValues(t, 2, seq, "appends continue from next_sequence after truncation")

	require.NoError(t, w2.Close())

	_, replayed2 := openFresh(t, dir, wal.Config{})
	require.Len(t, replayed2, 2)
	require.Equal(t, []byte("a"), replayed2[0].Key)
	require.Equal(t, []byte("c"), replayed2[1].Key)
}

func TestWAL_SegmentRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// A tiny threshold forces rotation on nearly every append.
	w, _ := openFresh(t, dir, wal.Config{SegmentBytes: 48, SyncPolicy: wal.NoSync})

	for i := range 10 {
		_, err := w.Append(wal.KindPut, []byte{byte('a' + i)}, []byte("v"))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Greater(t, len(entries), 1, "rotation should have produced multiple segments")

	_, replayed := openFresh(t, dir, wal.Config{})
	require.Len(t, replayed, 10)

	for i, rec := range replayed {
		require.Equal(t, []byte{byte('a' + i)}, rec.Key)
	}
}

func TestWAL_DeleteRecordHasEmptyValue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	w, _ := openFresh(t, dir, wal.Config{})

	_, err := w.Append(wal.KindDelete, []byte("k"), nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, replayed := openFresh(t, dir, wal.Config{})
	require.Len(t, replayed, 1)
	require.Empty(t, replayed[0].Value)
}

// corruptLastByte flips the final byte of the single segment file in dir,
// landing inside the last record's CRC trailer.
func corruptLastByte(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	path := filepath.Join(dir, entries[0].Name())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	data[len(data)-1] ^= 0xFF

	require.NoError(t, os.WriteFile(path, data, 0o640))
}
