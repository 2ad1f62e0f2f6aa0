//go:build linux

package transport

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/SampleEnvironment/frappy-go/errors"
)

var baudFlags = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

var sizeFlags = map[int]uint32{
	5: unix.CS5,
	6: unix.CS6,
	7: unix.CS7,
	8: unix.CS8,
}

// dialSerial opens the device, configures raw mode with the requested
// UART settings and wraps the fd in a pollable os.File, so the read
// deadlines of the shared conn work on it.
func dialSerial(uri string) (Conn, error) {
	s, err := parseSerialURI(uri)
	if err != nil {
		return nil, err
	}
	baud, ok := baudFlags[s.baudrate]
	if !ok {
		return nil, errors.Config("serial uri %q: unsupported baudrate %d", uri, s.baudrate)
	}
	size, ok := sizeFlags[s.bytesize]
	if !ok {
		return nil, errors.Config("serial uri %q: unsupported bytesize %d", uri, s.bytesize)
	}

	fd, err := unix.Open(s.device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, errors.CommunicationFailed("open %s: %v", s.device, err)
	}
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd) //nolint:errcheck
		return nil, errors.CommunicationFailed("%s: get attributes: %v", s.device, err)
	}

	// raw mode, no echo, no flow control
	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CBAUD
	tio.Cflag |= unix.CREAD | unix.CLOCAL | size | baud
	switch s.parity {
	case "even":
		tio.Cflag |= unix.PARENB
	case "odd":
		tio.Cflag |= unix.PARENB | unix.PARODD
	}
	if s.stopbits == 2 {
		tio.Cflag |= unix.CSTOPB
	}
	tio.Ispeed = baud
	tio.Ospeed = baud
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		unix.Close(fd) //nolint:errcheck
		return nil, errors.CommunicationFailed("%s: set attributes: %v", s.device, err)
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		unix.Close(fd) //nolint:errcheck
		return nil, errors.CommunicationFailed("%s: flush: %v", s.device, err)
	}

	f := os.NewFile(uintptr(fd), s.device)
	return newConn(f, uri), nil
}
