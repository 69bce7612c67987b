//go:build !unix

package sys

import (
	"os"
)

func osPageSize() int {
	return os.Getpagesize()
}

func osMapFile(f *os.File, size int) ([]byte, error) {
	return nil, ErrUnsupported
}

func osMapAnon(size int) ([]byte, error) {
	return nil, ErrUnsupported
}

func osUnmap(data []byte) error {
	return ErrUnsupported
}

func osSync(data []byte) error {
	return ErrUnsupported
}

func osAdvise(data []byte, pattern AccessPattern) error {
	return nil
}

func osLock(region []byte) error {
	return ErrUnsupported
}

func osUnlock(region []byte) error {
	return ErrUnsupported
}
