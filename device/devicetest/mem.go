// Package devicetest provides an in-memory device.BlockDevice for tests
// across the btrfs, ext, and iso9660 packages, standing in for a real
// DeviceOpener-opened block special.
package devicetest

import "github.com/vnodefs/vnodefs/device"

// Mem is an in-memory block device.
type Mem struct {
	buf []byte
}

var _ device.BlockDevice = (*Mem)(nil)

// NewMem returns a zero-filled in-memory device of the given size.
func NewMem(size int64) *Mem {
	return &Mem{buf: make([]byte, size)}
}

func (m *Mem) Size() int64 { return int64(len(m.buf)) }

func (m *Mem) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.buf)) {
		return 0, ErrOutOfRange
	}
	n := copy(p, m.buf[off:])
	return n, nil
}

func (m *Mem) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[off:], p)
	return n, nil
}

func (m *Mem) Sync() error { return nil }
func (m *Mem) Close() error { return nil }

// Bytes exposes the backing buffer directly, for tests that want to
// seed or inspect on-disk state without going through ReadAt/WriteAt.
func (m *Mem) Bytes() []byte { return m.buf }

type errOutOfRange struct{}

func (errOutOfRange) Error() string { return "devicetest: offset out of range" }

var ErrOutOfRange error = errOutOfRange{}
