//go:build windows

package tun

import (
	"errors"

	"golang.org/x/sys/windows"
	"golang.zx2c4.com/wintun"

	xerrors "github.com/xtls/xray-tun-core/common/errors"
)

// windowsSessionCapacity is the ring buffer capacity given to the wintun session.
const windowsSessionCapacity = 0x800000

// windowsDevice wraps a wintun adapter/session pair directly. It is never exposed to gVisor as
// its own link endpoint; this package's device layer talks to wintun on its own and hands bare
// IP frames to the reactor's blocking Read/Write.
type windowsDevice struct {
	adapter  *wintun.Adapter
	session  wintun.Session
	readWait windows.Handle
}

func newDevice(name string, mtu int, fd *int) (Device, int, error) {
	adapter, err := openWindowsAdapter(name)
	if err != nil {
		return nil, 0, xerrors.New("open wintun adapter ", name).Base(err)
	}

	session, err := adapter.StartSession(windowsSessionCapacity)
	if err != nil {
		_ = adapter.Close()
		return nil, 0, xerrors.New("start wintun session").Base(err)
	}

	return &windowsDevice{
		adapter:  adapter,
		session:  session,
		readWait: session.ReadWaitEvent(),
	}, int(wintun.PacketSizeMax), nil
}

func openWindowsAdapter(name string) (*wintun.Adapter, error) {
	if adapter, err := wintun.OpenAdapter(name); err == nil {
		return adapter, nil
	}
	return wintun.CreateAdapter(name, "xray-tun-core", nil)
}

// Read blocks until wintun has a packet ready, then copies it into buf.
func (d *windowsDevice) Read(buf []byte) (int, error) {
	for {
		packet, err := d.session.ReceivePacket()
		if errors.Is(err, windows.ERROR_NO_MORE_ITEMS) {
			if _, err := windows.WaitForSingleObject(d.readWait, windows.INFINITE); err != nil {
				return 0, err
			}
			continue
		}
		if err != nil {
			return 0, err
		}
		n := copy(buf, packet)
		d.session.ReleaseReceivePacket(packet)
		return n, nil
	}
}

func (d *windowsDevice) Write(buf []byte) (int, error) {
	packet, err := d.session.AllocateSendPacket(len(buf))
	if err != nil {
		return 0, err
	}
	copy(packet, buf)
	d.session.SendPacket(packet)
	return len(buf), nil
}

func (d *windowsDevice) Close() error {
	d.session.End()
	return d.adapter.Close()
}
