//go:build !linux

package proctitle

import "os"

// set only rewrites argv[0] outside Linux.
func set(title string) error {
	if len(os.Args) > 0 {
		os.Args[0] = title
	}
	return nil
}
