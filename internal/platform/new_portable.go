//go:build !windows

package platform

// NewAdapter returns the host-appropriate Adapter: the zstd-sidecar
// emulation everywhere WOF itself doesn't exist.
func NewAdapter(warn func(path string, err error)) Adapter {
	return NewPortableAdapter(warn)
}
