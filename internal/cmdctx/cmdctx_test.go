package cmdctx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildWholeLBAs(t *testing.T) {
	geo := DeviceGeometry{LBASize: 4096, LBACount: 1000}

	ctx, err := Build(geo, 1, 10, 0, 4096*3, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(10), ctx.StartLBA)
	require.Equal(t, uint64(3), ctx.NrLBAs)
	require.Equal(t, uint32(1<<16), ctx.PlacementTag)
}

func TestBuildSubLBAWithinSingleBlock(t *testing.T) {
	geo := DeviceGeometry{LBASize: 4096, LBACount: 1000}

	ctx, err := Build(geo, 1, 10, 100, 13, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), ctx.NrLBAs)
	require.Equal(t, uint64(100), ctx.InBlockOffset)
}

func TestBuildRejectsStraddlingWrite(t *testing.T) {
	geo := DeviceGeometry{LBASize: 4096, LBACount: 1000}

	_, err := Build(geo, 1, 10, 4090, 100, 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnaligned))
}

func TestPlacementTableLongestPrefixMatch(t *testing.T) {
	table := NewPlacementTable(0)
	table.Register("nvmefs:///tmp", 1)

	require.Equal(t, uint32(1), table.IndexFor("nvmefs:///tmp/file0"))
	require.Equal(t, uint32(0), table.IndexFor("nvmefs://app.db"))
	require.Equal(t, uint32(0), table.IndexFor("nvmefs://app.db.wal"))
}
