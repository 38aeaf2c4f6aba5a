package job

import (
	"io"
	"math"
	"os"

	"github.com/halvarsen/compactd/internal/config"
	"github.com/halvarsen/compactd/internal/estimator"
	"github.com/halvarsen/compactd/internal/walk"
)

// NewFileEstimate builds the real compresstimator wiring: opens path,
// samples it per estimator.Estimate, and — when cfg.DeepAnalysis is set and
// the fast ratio lands within cfg.DeepAnalysisMargin of the skip threshold
// — re-measures one block with brotli and keeps whichever ratio is lower
// (SPEC_FULL.md §4.2 expansion).
func NewFileEstimate(cfg *config.Config) walk.Estimate {
	return func(path string, length int64) (estimator.Result, error) {
		f, err := os.Open(path)
		if err != nil {
			return estimator.Result{}, err
		}
		defer f.Close()

		res, err := estimator.Estimate(f, length)
		if err != nil {
			return estimator.Result{}, err
		}

		if cfg.DeepAnalysis && res.Confident && math.Abs(res.Ratio-cfg.SkipThreshold) <= cfg.DeepAnalysisMargin {
			blockLen := length
			if blockLen > estimator.BlockSize {
				blockLen = estimator.BlockSize
			}
			block := make([]byte, blockLen)
			n, err := f.ReadAt(block, 0)
			if err != nil && err != io.EOF {
				return res, nil
			}
			if deepRatio, err := estimator.DeepEstimate(block[:n]); err == nil && deepRatio < res.Ratio {
				res.Ratio = deepRatio
			}
		}

		return res, nil
	}
}
