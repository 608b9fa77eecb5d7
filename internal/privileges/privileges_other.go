//go:build !linux

package privileges

// Default returns the platform dropper. Outside Linux there is no
// prctl-style descriptor discipline to enforce, so the drop is a no-op.
func Default() Dropper { return NoopDropper{} }
