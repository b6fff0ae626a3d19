//go:build linux

package proctitle

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func set(title string) error {
	if len(os.Args) > 0 {
		os.Args[0] = title
	}
	b := make([]byte, maxLen+1)
	copy(b, title)
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&b[0])), 0, 0, 0)
}
