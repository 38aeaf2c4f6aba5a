package walk

import (
	"github.com/halvarsen/compactd/internal/config"
	"github.com/halvarsen/compactd/internal/estimator"
	"github.com/halvarsen/compactd/internal/store"
)

// Bin is the classifier's output tag, one of {Compressed, Compressible,
// Skipped} (spec.md §3).
type Bin string

const (
	BinCompressed   Bin = "compressed"
	BinCompressible Bin = "compressible"
	BinSkipped      Bin = "skipped"
)

// Classification is the classifier's verdict for one Entry.
type Classification struct {
	Bin    Bin
	Reason SkipReason
}

// Estimate measures path's compressibility; length is the entry's logical
// size. Swappable in tests (and wired to the estimator+deep-analysis pair
// for real runs) — see spec.md §4.2.
type Estimate func(path string, length int64) (estimator.Result, error)

// Classifier assigns a Bin to each walker Entry, applying the incompressible
// store and the compresstimator in the order spec.md §3's Bin rules specify:
// already-backed, then pre-determined walker skips, then store membership,
// then the ratio probe.
type Classifier struct {
	cfg        *config.Config
	store      *store.Store
	hashKey    uint64
	estimate   Estimate
	onEstimate func()
}

// NewClassifier builds a Classifier. st may be nil (store membership is then
// never consulted, as if the store were always empty). onEstimate, if set,
// is called once per actual estimator invocation — the test hook S3 in
// spec.md §8 counts invocations through.
func NewClassifier(cfg *config.Config, st *store.Store, hashKey uint64, estimate Estimate, onEstimate func()) *Classifier {
	return &Classifier{cfg: cfg, store: st, hashKey: hashKey, estimate: estimate, onEstimate: onEstimate}
}

// Classify assigns e's Bin and reason.
func (c *Classifier) Classify(e Entry) Classification {
	if e.State.Backed {
		return Classification{Bin: BinCompressed, Reason: ReasonNone}
	}
	if e.PreSkip != ReasonNone {
		return Classification{Bin: BinSkipped, Reason: e.PreSkip}
	}
	if c.store != nil {
		hash := store.HashPath(c.hashKey, e.Path)
		if c.store.Contains(hash) {
			return Classification{Bin: BinSkipped, Reason: ReasonInStore}
		}
	}

	if c.onEstimate != nil {
		c.onEstimate()
	}
	res, err := c.estimate(e.Path, e.Logical)
	if err != nil {
		return Classification{Bin: BinSkipped, Reason: ReasonError}
	}
	if res.Ratio >= c.cfg.SkipThreshold {
		return Classification{Bin: BinSkipped, Reason: ReasonLowRatio}
	}
	return Classification{Bin: BinCompressible, Reason: ReasonNone}
}
