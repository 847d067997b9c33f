package nvmefs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nvmefs/internal/cmdctx"
	"nvmefs/internal/device"
	"nvmefs/internal/superblock"
)

const (
	scenarioLBASize  = 4096
	scenarioLBACount = 262144
	scenarioMaxTemp  = 40 * 1024 * 1024
	scenarioMaxWAL   = 32 * 1024 * 1024
)

func newScenarioFS(t *testing.T) *FS {
	t.Helper()
	geo := cmdctx.DeviceGeometry{LBASize: scenarioLBASize, LBACount: scenarioLBACount}
	dev := device.NewFakeAdapter(geo)
	t.Cleanup(func() { _ = dev.Close() })

	fs, err := New(Config{MaxTempSize: scenarioMaxTemp, MaxWALSize: scenarioMaxWAL}, WithDevice(dev))
	require.NoError(t, err)
	return fs
}

// Scenario 1: first attach computes the region layout from the
// configured caps and records the attached database's path.
func TestScenarioFirstAttach(t *testing.T) {
	fs := newScenarioFS(t)

	h, err := fs.Open("nvmefs://app.db", 0)
	require.NoError(t, err)
	require.Equal(t, ClassDatabase, h.Class())

	require.Equal(t, uint64(1), fs.dbStart)
	require.Equal(t, uint64(243712), fs.walStart)
	require.Equal(t, uint64(251904), fs.tmpStart)
	require.Equal(t, "app.db", fs.dbPath)

	require.NoError(t, fs.Sync())

	sb, ok, err := superblock.ReadFrom(fs.dev)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "app.db", sb.DBPath)
	require.Equal(t, fs.tmpStart, sb.TmpStart)
}

// Scenario 2: database write/read round trip and file size.
func TestScenarioDatabaseWriteRead(t *testing.T) {
	fs := newScenarioFS(t)
	h, err := fs.Open("nvmefs://app.db", 0)
	require.NoError(t, err)

	want := []byte("Hello, World!")
	n, err := fs.Write(h, want)
	require.NoError(t, err)
	require.Equal(t, len(want), n)

	got := make([]byte, len(want))
	_, err = fs.Read(h, got)
	require.NoError(t, err)
	require.Equal(t, want, got)

	size, err := fs.GetFileSize(h)
	require.NoError(t, err)
	require.Equal(t, uint64(4096), size)
}

// Scenario 3: writes to distinct regions never cross-contaminate.
func TestScenarioCrossRegionIsolation(t *testing.T) {
	fs := newScenarioFS(t)

	dbH, err := fs.Open("nvmefs://app.db", 0)
	require.NoError(t, err)
	walH, err := fs.Open("nvmefs://app.db.wal", 0)
	require.NoError(t, err)
	tmpH, err := fs.Open("nvmefs:///tmp/t0", FlagCreate)
	require.NoError(t, err)

	_, err = fs.Write(dbH, []byte("db-bytes"))
	require.NoError(t, err)
	_, err = fs.Write(walH, []byte("wal-bytes"))
	require.NoError(t, err)
	_, err = fs.Write(tmpH, []byte("tmp-bytes"))
	require.NoError(t, err)

	dbBuf := make([]byte, len("db-bytes"))
	walBuf := make([]byte, len("wal-bytes"))
	tmpBuf := make([]byte, len("tmp-bytes"))

	_, err = fs.Read(dbH, dbBuf)
	require.NoError(t, err)
	_, err = fs.Read(walH, walBuf)
	require.NoError(t, err)
	_, err = fs.Read(tmpH, tmpBuf)
	require.NoError(t, err)

	require.Equal(t, "db-bytes", string(dbBuf))
	require.Equal(t, "wal-bytes", string(walBuf))
	require.Equal(t, "tmp-bytes", string(tmpBuf))
}

// Scenario 4: temp file allocation and release reuses freed extents.
func TestScenarioTempAllocationRelease(t *testing.T) {
	fs := newScenarioFS(t)
	_, err := fs.Open("nvmefs://app.db", 0)
	require.NoError(t, err)

	for _, name := range []string{"/tmp/a", "/tmp/b", "/tmp/c"} {
		h, err := fs.Open("nvmefs://"+name, FlagCreate)
		require.NoError(t, err)
		_, err = fs.Write(h, []byte{1, 2, 3, 4})
		require.NoError(t, err)
	}

	entryB, err := fs.temp.Get("nvmefs:///tmp/b")
	require.NoError(t, err)
	bExtent := entryB.Extent

	before, err := fs.GetAvailableDiskSpace()
	require.NoError(t, err)

	require.NoError(t, fs.RemoveFile("nvmefs:///tmp/b"))

	after, err := fs.GetAvailableDiskSpace()
	require.NoError(t, err)
	require.Equal(t, before+bExtent.LengthLBAs*scenarioLBASize, after)

	dH, err := fs.Open("nvmefs:///tmp/d", FlagCreate)
	require.NoError(t, err)
	_, err = fs.Write(dH, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	entryD, err := fs.temp.Get("nvmefs:///tmp/d")
	require.NoError(t, err)
	require.Equal(t, bExtent.StartLBA, entryD.Extent.StartLBA)
}

// Scenario 5: seek repositions the cursor that subsequent offsets add to.
func TestScenarioSeekSemantics(t *testing.T) {
	fs := newScenarioFS(t)
	h, err := fs.Open("nvmefs://app.db", 0)
	require.NoError(t, err)

	_, err = fs.WriteAt(h, []byte("X"), 4096*5)
	require.NoError(t, err)

	require.NoError(t, fs.Seek(h, 4096*3))

	got := make([]byte, 13)
	_, err = fs.ReadAt(h, got, 4096*2)
	require.NoError(t, err)

	want := make([]byte, 13)
	want[0] = 'X'
	require.Equal(t, want, got)
}

// Scenario 6: removing the WAL resets its frontier and reported size.
func TestScenarioWALReset(t *testing.T) {
	fs := newScenarioFS(t)
	_, err := fs.Open("nvmefs://app.db", 0)
	require.NoError(t, err)

	walH, err := fs.Open("nvmefs://app.db.wal", 0)
	require.NoError(t, err)

	_, err = fs.Write(walH, []byte("record-one"))
	require.NoError(t, err)
	_, err = fs.WriteAt(walH, []byte("record-two"), 4096)
	require.NoError(t, err)

	size, err := fs.GetFileSize(walH)
	require.NoError(t, err)
	require.Greater(t, size, uint64(0))

	require.NoError(t, fs.RemoveFile("nvmefs://app.db.wal"))

	size, err = fs.GetFileSize(walH)
	require.NoError(t, err)
	require.Equal(t, uint64(0), size)
}

func TestRegressionReadAndWriteAreNotSwapped(t *testing.T) {
	fs := newScenarioFS(t)
	h, err := fs.Open("nvmefs://app.db", 0)
	require.NoError(t, err)

	payload := []byte("not-swapped")
	_, err = fs.Write(h, payload)
	require.NoError(t, err)

	readBack := make([]byte, len(payload))
	_, err = fs.Read(h, readBack)
	require.NoError(t, err)
	require.Equal(t, payload, readBack)
}

func TestOpenMetadataPathBypassesRouting(t *testing.T) {
	fs := newScenarioFS(t)

	h, err := fs.Open(GlobalMetadataPath, 0)
	require.NoError(t, err)
	require.True(t, h.IsMetadata())

	_, err = fs.Read(h, make([]byte, 1))
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestOpenNonDatabasePathBeforeAttachFails(t *testing.T) {
	fs := newScenarioFS(t)

	_, err := fs.Open("nvmefs://app.db.wal", 0)
	require.ErrorIs(t, err, ErrNoDatabaseAttached)
}

func TestOpenSecondDatabasePathFails(t *testing.T) {
	fs := newScenarioFS(t)
	_, err := fs.Open("nvmefs://app.db", 0)
	require.NoError(t, err)

	_, err = fs.Open("nvmefs://other.db", 0)
	require.ErrorIs(t, err, ErrInvalidPath)
}
