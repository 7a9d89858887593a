// Package device defines the DeviceOpener contract this module consumes.
// Per spec.md §1, DeviceOpener itself — "a thin open+geometry+block-cache
// wrapper" — is an external collaborator out of scope for this engine;
// only its interface is specified here, plus a minimal os.File-backed
// default so the package is independently testable and the cmd/ front
// ends have something to hand a real file or block special to.
//
// Modelled on the teacher's diskio.File[A] (lib/diskio/file_iface.go):
// a byte-addressed random-access file, generic over the address type so
// the same interface serves Btrfs's PhysicalAddr and Ext/ISO9660's plain
// int64 block-relative offsets.
package device

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// BlockDevice is the minimum a DeviceOpener hands back: a random-access
// byte store plus its declared size. Block-cache and volume code never
// touch *os.File directly, only this interface, so tests can substitute
// an in-memory fake (see devicetest.Mem).
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
	Sync() error
	Close() error
}

// Opener is the contract the core consumes; DeviceOpener proper (path
// resolution, raw/cooked mode selection, exclusive-lock acquisition) is
// the out-of-scope collaborator named in spec.md §1/§6.
type Opener interface {
	Open(path string, readOnly bool) (BlockDevice, error)
}

// osFile adapts *os.File to BlockDevice, taking an flock (shared for
// read-only, exclusive otherwise) the way Volume.Mount expects a
// DeviceOpener to have already done (spec.md §4.1).
type osFile struct {
	*os.File
	size int64
}

func (f *osFile) Size() int64 { return f.size }

// DefaultOpener opens a regular file or block special with flock-based
// mount exclusivity, standing in for the real DeviceOpener.
type DefaultOpener struct{}

func (DefaultOpener) Open(path string, readOnly bool) (BlockDevice, error) {
	flag := os.O_RDONLY
	if !readOnly {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	lockType := unix.LOCK_SH
	if !readOnly {
		lockType = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), lockType|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, err
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &osFile{File: f, size: size}, nil
}
