//go:build !linux

package memtracker

// MaxRSSKB is unavailable off Linux.
func MaxRSSKB() *uint64 {
	return nil
}
