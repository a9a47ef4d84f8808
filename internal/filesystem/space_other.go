//go:build !unix

package filesystem

import "math"

// AvailableSpace is not measured on this platform; uploads are never refused
// for lack of space.
func AvailableSpace(dir string) (uint64, error) {
	return math.MaxUint64, nil
}
