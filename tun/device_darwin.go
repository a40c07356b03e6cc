//go:build darwin

package tun

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xtls/xray-tun-core/common/errors"
)

const (
	utunControlName = "com.apple.net.utun_control"
	sysprotoControl = 2
	utunHeaderSize  = 4
	darwinGateway   = "169.254.10.1/30"

	sIOCAIFADDR6         = 2155899162 // netinet6/in6_var.h
	in6IffNoDAD          = 0x0020     // netinet6/in6_var.h
	nd6InfiniteLifetime  = 0xFFFFFFFF // netinet6/nd6.h
)

// darwinDevice is a utun control-socket device. Every frame it reads or writes carries
// Darwin's 4-byte address-family header, stripped on Read and added on Write so the rest of
// this package only ever sees bare IP frames.
type darwinDevice struct {
	file  *os.File
	owned bool
}

func newDevice(name string, mtu int, fd *int) (Device, int, error) {
	if fd != nil {
		return &darwinDevice{file: os.NewFile(uintptr(*fd), name), owned: false}, mtu, nil
	}

	file, err := openDarwinUtun(name)
	if err != nil {
		return nil, 0, errors.New("open utun control socket").Base(err)
	}
	if err := setDarwinMTU(name, mtu); err != nil {
		_ = file.Close()
		return nil, 0, errors.New("set utun mtu").Base(err)
	}
	gateway, _ := netip.ParsePrefix(darwinGateway)
	if err := setDarwinAddress(name, gateway); err != nil {
		_ = file.Close()
		return nil, 0, errors.New("assign utun address").Base(err)
	}

	return &darwinDevice{file: file, owned: true}, mtu, nil
}

func openDarwinUtun(name string) (*os.File, error) {
	ifIndex := -1
	if _, err := fmt.Sscanf(name, "utun%d", &ifIndex); err != nil || ifIndex < 0 {
		return nil, errors.New("darwin tun device name must be utunN, got ", name)
	}

	fd, err := unix.Socket(unix.AF_SYSTEM, unix.SOCK_DGRAM, sysprotoControl)
	if err != nil {
		return nil, err
	}

	ctlInfo := &unix.CtlInfo{}
	copy(ctlInfo.Name[:], utunControlName)
	if err := unix.IoctlCtlInfo(fd, ctlInfo); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	sockaddr := &unix.SockaddrCtl{ID: ctlInfo.Id, Unit: uint32(ifIndex) + 1}
	if err := unix.Connect(fd, sockaddr); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	return os.NewFile(uintptr(fd), name), nil
}

func setDarwinMTU(name string, mtu int) error {
	socket, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return err
	}
	defer unix.Close(socket)

	ifr := unix.IfreqMTU{MTU: int32(mtu)}
	copy(ifr.Name[:], name)
	return unix.IoctlSetIfreqMTU(socket, &ifr)
}

type ifAliasReq4 struct {
	Name    [unix.IFNAMSIZ]byte
	Addr    unix.RawSockaddrInet4
	Dstaddr unix.RawSockaddrInet4
	Mask    unix.RawSockaddrInet4
}

type ifAliasReq6 struct {
	Name     [unix.IFNAMSIZ]byte
	Addr     unix.RawSockaddrInet6
	Dstaddr  unix.RawSockaddrInet6
	Mask     unix.RawSockaddrInet6
	Flags    uint32
	Lifetime addrLifetime6
}

type addrLifetime6 struct {
	Expire    float64
	Preferred float64
	Vltime    uint32
	Pltime    uint32
}

// setDarwinAddress assigns a point-to-point gateway address (and a link-local IPv6 address)
// to the interface: Darwin will not route to a utun device that has no address at all.
func setDarwinAddress(name string, gateway netip.Prefix) error {
	socket4, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return err
	}
	defer unix.Close(socket4)

	local4 := gateway.Addr().As4()
	local4[3]++

	ifReq4 := ifAliasReq4{
		Addr:    unix.RawSockaddrInet4{Len: unix.SizeofSockaddrInet4, Family: unix.AF_INET, Addr: local4},
		Dstaddr: unix.RawSockaddrInet4{Len: unix.SizeofSockaddrInet4, Family: unix.AF_INET, Addr: gateway.Addr().As4()},
		Mask:    unix.RawSockaddrInet4{Len: unix.SizeofSockaddrInet4, Family: unix.AF_INET, Addr: netip.MustParseAddr(net.IP(net.CIDRMask(gateway.Bits(), 32)).String()).As4()},
	}
	copy(ifReq4.Name[:], name)
	if err := ioctlPtr(socket4, unix.SIOCAIFADDR, unsafe.Pointer(&ifReq4)); err != nil {
		return os.NewSyscallError("SIOCAIFADDR", err)
	}

	socket6, err := unix.Socket(unix.AF_INET6, unix.SOCK_DGRAM, 0)
	if err != nil {
		return err
	}
	defer unix.Close(socket6)

	local6 := netip.AddrFrom16([16]byte{0: 0xfe, 1: 0x80, 12: local4[0], 13: local4[1], 14: local4[2], 15: local4[3]})

	ifReq6 := ifAliasReq6{
		Addr: unix.RawSockaddrInet6{Len: unix.SizeofSockaddrInet6, Family: unix.AF_INET6, Addr: local6.As16()},
		Mask: unix.RawSockaddrInet6{Len: unix.SizeofSockaddrInet6, Family: unix.AF_INET6, Addr: netip.MustParseAddr(net.IP(net.CIDRMask(64, 128)).String()).As16()},
		Flags: in6IffNoDAD,
		Lifetime: addrLifetime6{
			Vltime: nd6InfiniteLifetime,
			Pltime: nd6InfiniteLifetime,
		},
	}
	copy(ifReq6.Name[:], name)
	if err := ioctlPtr(socket6, sIOCAIFADDR6, unsafe.Pointer(&ifReq6)); err != nil {
		return os.NewSyscallError("SIOCAIFADDR6", err)
	}

	return nil
}

func ioctlPtr(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *darwinDevice) Read(buf []byte) (int, error) {
	packet := make([]byte, len(buf)+utunHeaderSize)
	n, err := d.file.Read(packet)
	if err != nil {
		return 0, err
	}
	if n <= utunHeaderSize {
		return 0, nil
	}
	return copy(buf, packet[utunHeaderSize:n]), nil
}

func (d *darwinDevice) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	var family byte
	switch buf[0] >> 4 {
	case 4:
		family = unix.AF_INET
	case 6:
		family = unix.AF_INET6
	default:
		return 0, errors.New("darwin tun write: unrecognized IP version")
	}

	packet := make([]byte, utunHeaderSize, utunHeaderSize+len(buf))
	packet[3] = family
	packet = append(packet, buf...)

	n, err := d.file.Write(packet)
	if err != nil {
		return 0, err
	}
	if n < utunHeaderSize {
		return 0, nil
	}
	return n - utunHeaderSize, nil
}

func (d *darwinDevice) Close() error {
	if d.owned {
		return d.file.Close()
	}
	return nil
}
