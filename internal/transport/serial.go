package transport

import (
	"io"

	"go.bug.st/serial"
)

// Opener opens a line oriented connection to the ground receiver.
type Opener interface {
	Open(addr string, speed int) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(addr string, speed int) (io.ReadCloser, error)

func (f OpenerFunc) Open(addr string, speed int) (io.ReadCloser, error) {
	return f(addr, speed)
}

// SerialOpener opens serial devices such as /dev/ttyUSB0 or COM5 at 8N1.
type SerialOpener struct{}

func (SerialOpener) Open(addr string, speed int) (io.ReadCloser, error) {
	return serial.Open(addr, &serial.Mode{
		BaudRate: speed,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// Ports lists the serial devices present on the host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
