//go:build !linux

package ssg

import "errors"

func exchange(a, b string) error {
	return errors.New("ssg: atomic exchange not supported on this platform")
}
