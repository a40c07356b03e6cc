//go:build !linux && !darwin && !windows

package tun

import "github.com/xtls/xray-tun-core/common/errors"

// defaultDevice is the stub used on platforms this package has no raw TUN device support for.
type defaultDevice struct{}

func newDevice(name string, mtu int, fd *int) (Device, int, error) {
	return nil, 0, errors.New("tun device is not supported on this platform")
}

func (d *defaultDevice) Read(buf []byte) (int, error) {
	return 0, errors.New("tun device is not supported on this platform")
}

func (d *defaultDevice) Write(buf []byte) (int, error) {
	return 0, errors.New("tun device is not supported on this platform")
}

func (d *defaultDevice) Close() error {
	return errors.New("tun device is not supported on this platform")
}
