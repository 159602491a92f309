package convert

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/brensch/c4zero/game"
)

const (
	BytesPerFloat = 4
	FloatSize     = game.Cells
	BufferSize    = FloatSize * BytesPerFloat
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, BufferSize)
		return &b
	},
}

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, FloatSize)
		return &b
	},
}

// GetBuffer returns a buffer from the pool.
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(b *[]byte) {
	bufferPool.Put(b)
}

func GetFloatBuffer() *[]float32 {
	return floatPool.Get().(*[]float32)
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

// Index is the feature slot of (col, row). Row 0 (bottom) comes first.
func Index(col, row int) int {
	return row*game.Columns + col
}

// StateToFloat32 encodes the board from the mover's point of view into a
// pooled slice: +1 for the mover's markers, -1 for the opponent's, 0 empty.
// Caller must return it to the pool using PutFloatBuffer.
func StateToFloat32(s *game.State) *[]float32 {
	dataPtr := GetFloatBuffer()
	Fill(*dataPtr, s)
	return dataPtr
}

// Fill writes the mover-relative encoding of s into dst, which must hold
// FloatSize values.
func Fill(dst []float32, s *game.State) {
	p := s.Perspective()
	for row := 0; row < game.Rows; row++ {
		for col := 0; col < game.Columns; col++ {
			dst[Index(col, row)] = float32(s.Cell(col, row) * p)
		}
	}
}

// StateToBytes flattens the mover-relative encoding into little endian
// float32 bytes, the layout stored in training shards.
// Caller must return it to the pool using PutBuffer.
func StateToBytes(s *game.State) *[]byte {
	dataPtr := GetBuffer()
	data := *dataPtr

	p := s.Perspective()
	for row := 0; row < game.Rows; row++ {
		for col := 0; col < game.Columns; col++ {
			idx := Index(col, row) * BytesPerFloat
			v := float32(s.Cell(col, row) * p)
			binary.LittleEndian.PutUint32(data[idx:], math.Float32bits(v))
		}
	}
	return dataPtr
}

// BoardBytes packs the absolute board (not mover-relative) one signed byte per
// cell in Index order.
func BoardBytes(s *game.State) []byte {
	out := make([]byte, game.Cells)
	for row := 0; row < game.Rows; row++ {
		for col := 0; col < game.Columns; col++ {
			out[Index(col, row)] = byte(s.Cell(col, row))
		}
	}
	return out
}

// BytesToFloat32 decodes a StateToBytes payload.
func BytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/BytesPerFloat)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*BytesPerFloat:]))
	}
	return out
}
