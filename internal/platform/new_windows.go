//go:build windows

package platform

// NewAdapter returns the host-appropriate Adapter: the real WOF adapter on
// Windows.
func NewAdapter(warn func(path string, err error)) Adapter {
	return NewWindowsAdapter(warn)
}
