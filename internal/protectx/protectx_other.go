//go:build !linux

package protectx

import "fmt"

// Mark is unsupported outside Linux: there is no portable SO_MARK
// equivalent, matching the teacher's fwmark_other.go.
func Mark(fd int, mark uint32) error {
	if mark == 0 {
		return nil
	}
	return fmt.Errorf("protectx: fwmark is supported only on linux")
}
