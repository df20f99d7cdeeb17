//go:build !((linux && cgo) || windows || darwin)

package audio

// BeepAvailable reports whether the speaker backend is compiled in.
// The speaker needs cgo on linux.
const BeepAvailable = false

// BeepEngine is not available in this build.
type BeepEngine struct{}

// NewBeepEngine always fails without cgo.
func NewBeepEngine(settings BeepSettings) (*BeepEngine, error) {
	return nil, ErrUnavailable
}

// Open always fails without cgo.
func (e *BeepEngine) Open(uri string, sink Sink) (Resource, error) {
	return nil, ErrUnavailable
}

// SetVolume is a no-op without cgo.
func (e *BeepEngine) SetVolume(v float64) {}

// Close is a no-op without cgo.
func (e *BeepEngine) Close() error {
	return nil
}
