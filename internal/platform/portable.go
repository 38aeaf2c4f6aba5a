//go:build !windows

package platform

import (
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/halvarsen/compactd/internal/config"
)

// sidecarSuffix marks the on-disk stand-in for a WOF external backing on
// platforms that don't have WOF. The original file's bytes are left
// untouched — only a compressed sidecar is written alongside it — so every
// other component (the walker, the compresstimator) keeps reading real
// content identically on every platform; only the physical-size side of
// the invariant is approximated here, exactly as the real adapter only
// approximates by trusting whatever the host reports (spec.md §9).
const sidecarSuffix = ".wofsim"

// PortableAdapter emulates WOF's size bookkeeping using a real compression
// codec, for platforms without the Windows Overlay Filter. The four WOF
// algorithms already form a speed/ratio ladder; zstd's four encoder levels
// mirror it exactly, which is the same tiering the teacher filesystem wraps
// in its zstd encoder-level switch.
type PortableAdapter struct {
	warn func(path string, err error)
}

// NewPortableAdapter returns the non-Windows Adapter. warn receives
// timestamp-restoration warnings (spec.md §4.1).
func NewPortableAdapter(warn func(path string, err error)) *PortableAdapter {
	return &PortableAdapter{warn: warn}
}

func zstdLevelFor(algo config.Algorithm) zstd.EncoderLevel {
	switch algo {
	case config.AlgorithmXpress4k:
		return zstd.SpeedFastest
	case config.AlgorithmXpress8k:
		return zstd.SpeedDefault
	case config.AlgorithmXpress16k:
		return zstd.SpeedBetterCompression
	case config.AlgorithmLzx:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func (p *PortableAdapter) Stat(path string) (FileMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMetadata{}, ErrIoError
	}

	state := CompressionState{}
	physical := info.Size()
	if sInfo, err := os.Stat(path + sidecarSuffix); err == nil {
		if algo, ok := readSidecarAlgorithm(path); ok {
			state = CompressionState{Backed: true, Algorithm: algo}
			physical = sInfo.Size()
		}
	}

	atime := fileAtime(info)
	return FileMetadata{
		LogicalSize:  info.Size(),
		PhysicalSize: physical,
		State:        state,
		ModTime:      info.ModTime(),
		AccessTime:   atime,
	}, nil
}

func (p *PortableAdapter) SetBacking(path string, algo config.Algorithm) error {
	if _, err := os.Stat(path + sidecarSuffix); err == nil {
		return nil // already backed; no-op per spec.md §4.1
	}

	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return ErrIoError
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ErrIoError
	}
	savedMtime := info.ModTime()
	savedAtime := fileAtime(info)

	sidecar, err := os.OpenFile(path+sidecarSuffix+".tmp", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return ErrIoError
	}
	// First byte of the sidecar is the algorithm code so Stat can recover
	// which backing is in effect without a second side-channel file.
	code, _ := algo.Code()
	if _, err := sidecar.Write([]byte{byte(code)}); err != nil {
		sidecar.Close()
		os.Remove(path + sidecarSuffix + ".tmp")
		return ErrIoError
	}

	enc, err := zstd.NewWriter(sidecar, zstd.WithEncoderLevel(zstdLevelFor(algo)))
	if err != nil {
		sidecar.Close()
		os.Remove(path + sidecarSuffix + ".tmp")
		return ErrUnsupported
	}
	if _, err := io.Copy(enc, f); err != nil {
		enc.Close()
		sidecar.Close()
		os.Remove(path + sidecarSuffix + ".tmp")
		return ErrIoError
	}
	if err := enc.Close(); err != nil {
		sidecar.Close()
		os.Remove(path + sidecarSuffix + ".tmp")
		return ErrIoError
	}
	if err := sidecar.Close(); err != nil {
		os.Remove(path + sidecarSuffix + ".tmp")
		return ErrIoError
	}
	if err := os.Rename(path+sidecarSuffix+".tmp", path+sidecarSuffix); err != nil {
		return ErrIoError
	}

	// The real platform call bumps mtime; emulate that, then restore.
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	if err := os.Chtimes(path, savedAtime, savedMtime); err != nil {
		if p.warn != nil {
			p.warn(path, err)
		}
	}
	return nil
}

func (p *PortableAdapter) ClearBacking(path string) error {
	sidecarPath := path + sidecarSuffix
	if _, err := os.Stat(sidecarPath); err != nil {
		return nil // not backed; no-op
	}

	info, err := os.Stat(path)
	if err != nil {
		return ErrIoError
	}
	savedMtime := info.ModTime()
	savedAtime := fileAtime(info)

	if err := os.Remove(sidecarPath); err != nil {
		return ErrIoError
	}

	now := time.Now()
	_ = os.Chtimes(path, now, now)
	if err := os.Chtimes(path, savedAtime, savedMtime); err != nil {
		if p.warn != nil {
			p.warn(path, err)
		}
	}
	return nil
}

func readSidecarAlgorithm(path string) (config.Algorithm, bool) {
	f, err := os.Open(path + sidecarSuffix)
	if err != nil {
		return "", false
	}
	defer f.Close()
	var b [1]byte
	if _, err := f.Read(b[:]); err != nil {
		return "", false
	}
	return config.AlgorithmFromCode(uint32(b[0]))
}

var _ Adapter = (*PortableAdapter)(nil)
