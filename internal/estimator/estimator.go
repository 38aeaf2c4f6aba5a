// Package estimator implements the compresstimator: a constant-memory
// linear-sampling compressibility probe that gates which files are worth
// handing to the platform adapter.
package estimator

import (
	"io"

	"github.com/andybalholm/brotli"
	"github.com/pierrec/lz4/v4"
)

const (
	// BlockSize is the sampled block size B (spec.md §4.2).
	BlockSize = 64 * 1024

	// smallFileThreshold is S_small — files at or below this size are
	// encoded whole rather than sampled.
	smallFileThreshold = 64 * 1024

	minBlocks = 4
	maxBlocks = 16
	// blockStride is the file-size span (1 MiB) that buys one extra
	// sampled block, per spec.md's k = min(16, max(4, L/1MiB)).
	blockStride = 1024 * 1024

	// maxRatio caps a measured ratio; tiny inputs can otherwise report
	// several times their size once codec framing is counted.
	maxRatio = 1.5
)

// Result is the compresstimator's verdict for one file.
type Result struct {
	// Ratio is len(encode(sample)) / len(sample); values above 1 indicate
	// measured expansion. In (0, 1.5].
	Ratio float64
	// Confident is false when the sample was too small to trust (e.g. a
	// zero-length file), in which case callers should not gate on Ratio
	// alone.
	Confident bool
}

// ReaderAt is the minimal surface the estimator needs: random access
// without requiring Seek, so callers can pass an *os.File directly or any
// in-memory stand-in used by tests.
type ReaderAt interface {
	io.ReaderAt
}

// Estimate samples r (whose logical length is length) and returns the
// measured compression ratio. It never allocates more than one
// BlockSize-sized scratch buffer regardless of length, per spec.md §4.2.
func Estimate(r ReaderAt, length int64) (Result, error) {
	if length <= 0 {
		return Result{Ratio: 1, Confident: false}, nil
	}

	if length <= smallFileThreshold {
		return estimateWhole(r, length)
	}
	return estimateSampled(r, length)
}

func estimateWhole(r ReaderAt, length int64) (Result, error) {
	buf := make([]byte, length)
	if _, err := r.ReadAt(buf, 0); err != nil && err != io.EOF {
		return Result{}, err
	}
	out, err := lz4EncodedLen(buf)
	if err != nil {
		return Result{}, err
	}
	return Result{Ratio: ratio(out, len(buf)), Confident: true}, nil
}

func estimateSampled(r ReaderAt, length int64) (Result, error) {
	k := blockCount(length)
	offsets := sampleOffsets(length, k)

	scratch := make([]byte, BlockSize)
	var totalIn, totalOut int64

	for _, off := range offsets {
		n, err := r.ReadAt(scratch, off)
		if err != nil && err != io.EOF {
			return Result{}, err
		}
		if n == 0 {
			continue
		}
		out, err := lz4EncodedLen(scratch[:n])
		if err != nil {
			return Result{}, err
		}
		totalIn += int64(n)
		totalOut += int64(out)
	}

	if totalIn == 0 {
		return Result{Ratio: 1, Confident: false}, nil
	}
	return Result{Ratio: float64(totalOut) / float64(totalIn), Confident: true}, nil
}

// blockCount implements k = min(16, max(4, L / 1MiB)).
func blockCount(length int64) int {
	k := int(length / blockStride)
	if k < minBlocks {
		k = minBlocks
	}
	if k > maxBlocks {
		k = maxBlocks
	}
	return k
}

// sampleOffsets picks k evenly spaced offsets across [0, L-B).
func sampleOffsets(length int64, k int) []int64 {
	span := length - BlockSize
	if span <= 0 {
		return []int64{0}
	}
	offsets := make([]int64, k)
	if k == 1 {
		offsets[0] = 0
		return offsets
	}
	step := span / int64(k-1)
	for i := 0; i < k; i++ {
		offsets[i] = step * int64(i)
	}
	return offsets
}

func ratio(out, in int) float64 {
	if in == 0 {
		return 1
	}
	r := float64(out) / float64(in)
	if r > maxRatio {
		return maxRatio
	}
	return r
}

// lz4EncodedLen is the "fast dictionary coder at its lowest setting" the
// spec calls for — the same codec the original filesystem wrapper drives at
// full file scope in its createLZ4Compressor, here measuring just the
// sampled blocks.
func lz4EncodedLen(block []byte) (int, error) {
	counter := &countingWriter{}
	w := lz4.NewWriter(counter)
	if _, err := w.Write(block); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return counter.n, nil
}

type countingWriter struct{ n int }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += len(p)
	return len(p), nil
}

// DeepEstimate re-measures the same class of sample with brotli at quality
// 0. It exists only for the ambiguous band near the skip threshold
// (Config.DeepAnalysis): brotli's larger window catches redundancy LZ4's
// smaller one misses, at a speed cost unjustifiable as the default probe.
func DeepEstimate(block []byte) (float64, error) {
	counter := &countingWriter{}
	w := brotli.NewWriterLevel(counter, 0)
	if _, err := w.Write(block); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return ratio(counter.n, len(block)), nil
}
