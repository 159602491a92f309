package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/c4zero/game"
)

func TestEncodingIsMoverRelative(t *testing.T) {
	s, err := game.FromMoves([]int{3})
	require.NoError(t, err)

	// Second to move: First's marker is the opponent's.
	buf := StateToFloat32(s)
	defer PutFloatBuffer(buf)
	assert.Equal(t, float32(-1), (*buf)[Index(3, 0)])

	require.NoError(t, s.Apply(3))
	Fill(*buf, s)
	assert.Equal(t, float32(1), (*buf)[Index(3, 0)])
	assert.Equal(t, float32(-1), (*buf)[Index(3, 1)])
	assert.Equal(t, float32(0), (*buf)[Index(0, 0)])
}

func TestMirroredPositionsEncodeIdentically(t *testing.T) {
	s, err := game.FromMoves([]int{0, 1, 2, 2, 6})
	require.NoError(t, err)

	a := make([]float32, FloatSize)
	b := make([]float32, FloatSize)
	Fill(a, s)
	Fill(b, s.Mirror())
	assert.Equal(t, a, b)
}

func TestBytesMatchFloats(t *testing.T) {
	s, err := game.FromMoves([]int{4, 4, 5})
	require.NoError(t, err)

	bp := StateToBytes(s)
	defer PutBuffer(bp)
	require.Len(t, *bp, BufferSize)

	want := make([]float32, FloatSize)
	Fill(want, s)
	assert.Equal(t, want, BytesToFloat32(*bp))
}

func TestBoardBytesAreAbsolute(t *testing.T) {
	s, err := game.FromMoves([]int{0, 1})
	require.NoError(t, err)
	b := BoardBytes(s)
	assert.Equal(t, int8(game.First), int8(b[Index(0, 0)]))
	assert.Equal(t, int8(game.Second), int8(b[Index(1, 0)]))
}

func BenchmarkStateToFloat32(b *testing.B) {
	s, _ := game.FromMoves([]int{3, 3, 2, 4, 1, 5})
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := StateToFloat32(s)
		PutFloatBuffer(buf)
	}
}
