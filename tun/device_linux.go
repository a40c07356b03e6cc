//go:build linux && !android

package tun

import (
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/xtls/xray-tun-core/common/errors"
)

// linuxDevice is a raw /dev/net/tun device, read and written to directly by blocking
// syscalls from the reactor's dedicated read goroutine. Its file descriptor is never handed
// to gVisor's own fdbased link endpoint; this package's device layer stays independent of the
// embedded stack (see VirtDevice).
type linuxDevice struct {
	fd    int
	link  netlink.Link
	owned bool
}

func newDevice(name string, mtu int, fd *int) (Device, int, error) {
	tunFd := 0
	owned := fd == nil
	var err error

	if owned {
		tunFd, err = openLinuxTun(name)
		if err != nil {
			return nil, 0, errors.New("open /dev/net/tun").Base(err)
		}
	} else {
		tunFd = *fd
	}

	link, err := netlink.LinkByName(name)
	if err != nil {
		if owned {
			_ = unix.Close(tunFd)
		}
		return nil, 0, errors.New("resolve tun link ", name).Base(err)
	}
	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		if owned {
			_ = unix.Close(tunFd)
		}
		return nil, 0, errors.New("set tun link mtu").Base(err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		if owned {
			_ = unix.Close(tunFd)
		}
		return nil, 0, errors.New("bring tun link up").Base(err)
	}

	return &linuxDevice{fd: tunFd, link: link, owned: owned}, mtu, nil
}

func openLinuxTun(name string) (int, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return -1, err
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	ifr.SetUint16(uint16(unix.IFF_TUN | unix.IFF_NO_PI))
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

func (d *linuxDevice) Read(buf []byte) (int, error) {
	return unix.Read(d.fd, buf)
}

func (d *linuxDevice) Write(buf []byte) (int, error) {
	return unix.Write(d.fd, buf)
}

func (d *linuxDevice) Close() error {
	_ = netlink.LinkSetDown(d.link)
	if d.owned {
		return unix.Close(d.fd)
	}
	return nil
}
