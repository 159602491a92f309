package inference

import (
	"bufio"
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/mat"
)

var ErrNoCheckpoint = errors.New("no checkpoint found")

var checkpointMagic = [4]byte{'C', '4', 'Z', '1'}

var checkpointName = regexp.MustCompile(`^iter_(\d{6,})\.ckpt$`)

type checkpointHeader struct {
	Magic        [4]byte
	Layers       uint32
	Step         uint64
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
}

// CheckpointPath is the file holding the parameters saved after iter.
func CheckpointPath(dir string, iter int) string {
	return filepath.Join(dir, fmt.Sprintf("iter_%06d.ckpt", iter))
}

// WriteTo serialises the parameters and optimizer state. Each matrix is a
// gonum binary blob preceded by its length.
func (n *Network) WriteTo(w io.Writer) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	cw := &countingWriter{w: w}
	h := checkpointHeader{
		Magic:        checkpointMagic,
		Layers:       uint32(len(n.layers)),
		Step:         uint64(n.step),
		LearningRate: n.cfg.LearningRate,
		Beta1:        n.cfg.Beta1,
		Beta2:        n.cfg.Beta2,
		Epsilon:      n.cfg.Epsilon,
	}
	if err := binary.Write(cw, binary.LittleEndian, h); err != nil {
		return cw.n, err
	}
	for _, l := range n.layers {
		rows, cols := l.Weight.Rows, l.Weight.Cols
		for _, m := range []encoding.BinaryMarshaler{
			mat.NewDense(rows, cols, widen(l.Weight.Data)),
			mat.NewDense(rows, cols, widen(l.mW)),
			mat.NewDense(rows, cols, widen(l.vW)),
			mat.NewVecDense(cols, widen(l.Bias.Data)),
			mat.NewVecDense(cols, widen(l.mB)),
			mat.NewVecDense(cols, widen(l.vB)),
		} {
			if err := writeBlob(cw, m); err != nil {
				return cw.n, err
			}
		}
	}
	return cw.n, nil
}

// ReadNetwork restores a network written by WriteTo.
func ReadNetwork(r io.Reader) (*Network, error) {
	var h checkpointHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if h.Magic != checkpointMagic {
		return nil, fmt.Errorf("bad checkpoint magic %q", h.Magic[:])
	}

	n := &Network{
		step: int(h.Step),
		cfg: NetworkConfig{
			LearningRate: h.LearningRate,
			Beta1:        h.Beta1,
			Beta2:        h.Beta2,
			Epsilon:      h.Epsilon,
		},
	}
	for i := 0; i < int(h.Layers); i++ {
		var w, mw, vw mat.Dense
		var b, mb, vb mat.VecDense
		for _, m := range []encoding.BinaryUnmarshaler{&w, &mw, &vw, &b, &mb, &vb} {
			if err := readBlob(r, m); err != nil {
				return nil, fmt.Errorf("layer %d: %w", i, err)
			}
		}
		rows, cols := w.Dims()
		if b.Len() != cols {
			return nil, fmt.Errorf("layer %d: bias has %d entries for %d outputs", i, b.Len(), cols)
		}
		n.layers = append(n.layers, &affine{
			Weight: blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: narrow(w.RawMatrix().Data)},
			Bias:   blas32.Vector{N: cols, Inc: 1, Data: narrow(b.RawVector().Data)},
			mW:     narrow(mw.RawMatrix().Data),
			vW:     narrow(vw.RawMatrix().Data),
			mB:     narrow(mb.RawVector().Data),
			vB:     narrow(vb.RawVector().Data),
		})
		if i+1 < int(h.Layers) {
			n.cfg.Hidden = append(n.cfg.Hidden, cols)
		}
	}
	if len(n.layers) == 0 || n.layers[0].Weight.Rows != InputSize || n.layers[len(n.layers)-1].Weight.Cols != OutputSize {
		return nil, fmt.Errorf("checkpoint shape does not match a %d -> %d network", InputSize, OutputSize)
	}
	return n, nil
}

// SaveCheckpoint writes net to dir/iter_NNNNNN.ckpt via a temp file and rename.
func SaveCheckpoint(dir string, iter int, net *Network) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	final := CheckpointPath(dir, iter)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if _, err := net.WriteTo(bw); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	log.Info().Str("path", final).Int("steps", net.Steps()).Msg("saved checkpoint")
	return nil
}

// LoadCheckpoint reads the checkpoint saved after iter.
func LoadCheckpoint(dir string, iter int) (*Network, error) {
	path := CheckpointPath(dir, iter)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, path)
		}
		return nil, err
	}
	defer f.Close()

	net, err := ReadNetwork(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return net, nil
}

// LatestCheckpoint returns the highest iteration saved in dir.
func LatestCheckpoint(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoCheckpoint
		}
		return 0, err
	}
	best := -1
	for _, e := range entries {
		m := checkpointName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		iter, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if iter > best {
			best = iter
		}
	}
	if best < 0 {
		return 0, ErrNoCheckpoint
	}
	return best, nil
}

// CheckpointDir saves and restores one live network under a directory.
type CheckpointDir struct {
	Dir string
	Net *Network
}

func (c *CheckpointDir) Save(iter int) error {
	return SaveCheckpoint(c.Dir, iter, c.Net)
}

// Restore swaps the latest saved parameters into Net. ok is false when the
// directory has no checkpoint yet.
func (c *CheckpointDir) Restore() (iter int, ok bool, err error) {
	iter, err = LatestCheckpoint(c.Dir)
	if errors.Is(err, ErrNoCheckpoint) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	loaded, err := LoadCheckpoint(c.Dir, iter)
	if err != nil {
		return 0, false, err
	}

	c.Net.mu.Lock()
	c.Net.layers = loaded.layers
	c.Net.step = loaded.step
	c.Net.cfg.Hidden = loaded.cfg.Hidden
	c.Net.mu.Unlock()
	return iter, true, nil
}

func writeBlob(w io.Writer, m encoding.BinaryMarshaler) error {
	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readBlob(r io.Reader, m encoding.BinaryUnmarshaler) error {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return err
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return err
	}
	return m.UnmarshalBinary(b)
}

func widen(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func narrow(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
