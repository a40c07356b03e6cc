package tun

// Device is the narrow raw I/O surface TunInbound needs from a platform-specific TUN
// device: whole IP frames in and out, no link-layer framing beyond whatever the platform
// itself imposes (e.g. Darwin's 4-byte address-family prefix, stripped/added internally).
type Device interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
}
