// Package serialport opens serial links with a bounded read timeout and
// frames the byte stream into lines.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// ReadTimeout bounds every read so a silent or unplugged device cannot block
// a worker past cancellation.
const ReadTimeout = time.Second

// ErrDeviceGone is returned when the device node disappeared.
var ErrDeviceGone = errors.New("serial device gone")

type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

// OpenFunc opens a port at the given baud rate.
type OpenFunc func(device string, baud int) (Port, error)

// Open opens device with an 8N1 configuration.
func Open(device string, baud int) (Port, error) {
	device = strings.TrimSpace(device)
	if device == "" {
		return nil, errors.New("serial device path is empty")
	}
	p, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud, ReadTimeout: ReadTimeout})
	if err != nil {
		return nil, fmt.Errorf("open %s @ %d: %w", device, baud, err)
	}
	return &link{port: p, device: device}, nil
}

type link struct {
	port   *serial.Port
	device string
}

// Read reports an expired read timeout as (0, nil). Some platforms surface
// the timeout as io.EOF, which is also what a hung-up USB adapter returns, so
// the device node is checked before treating EOF as idle.
func (l *link) Read(b []byte) (int, error) {
	n, err := l.port.Read(b)
	if errors.Is(err, io.EOF) {
		if _, statErr := os.Stat(l.device); statErr != nil {
			return n, fmt.Errorf("%s: %w", l.device, ErrDeviceGone)
		}
		return n, nil
	}
	return n, err
}

func (l *link) Write(b []byte) (int, error) {
	return l.port.Write(b)
}

func (l *link) Close() error {
	return l.port.Close()
}
