package uart

import (
	"io"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var ErrTimeout = errors.New("timed out reading from microcontroller")
var ErrClosed = errors.New("serial port is closed")

// port is the part of serial.Port the bootloader link needs.
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// openPort opens the serial device; replaced in tests.
var openPort = func(tty string, baud int) (port, error) {
	return serial.Open(tty, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	})
}

// Open powers the chip into its system bootloader, opens the serial link and
// synchronises with the bootloader.
func (mc *Microcontroller) Open() (err error) {
	if err = mc.setupPins(); err != nil {
		return errors.Wrap(err, "could not setup pins")
	}

	p, err := openPort(mc.TTY(), mc.BaudRate())
	if err != nil {
		mc.cleanupPins()
		return errors.Wrap(err, "could not open serial")
	}

	mc.ttyPort = p
	mc.ttyRx = make(chan byte, 64)
	mc.ttyStop = make(chan struct{})
	mc.ttyDone = make(chan struct{})
	go mc.rx(p, mc.ttyRx, mc.ttyStop, mc.ttyDone)

	if err = errors.Wrap(mc.stmInit(mc.timeout()), "could not init stm chip"); err != nil {
		mc.Close()
		return
	}

	logrus.Debugf("mcu open, bootloader v%x", mc.stmBootloaderVersion)

	return nil
}

// Close will close the connection and reset the MCU so it runs from flash
func (mc *Microcontroller) Close() error {
	if !mc.IsOpen() {
		return nil
	}

	mc.exitSTBL()

	close(mc.ttyStop)
	err := mc.ttyPort.Close()
	<-mc.ttyDone
	mc.ttyPort = nil
	mc.synced = false

	// resets the pins to a running state
	mc.cleanupPins()

	logrus.Debug("mcu close")

	return err
}

func (mc *Microcontroller) IsOpen() bool {
	return mc.ttyPort != nil
}

// rx is the loop that reads from the port and writes the incoming bytes to
// the rx chan until stop is closed or the port fails
func (mc *Microcontroller) rx(p port, out chan<- byte, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, 64)

	if err := p.SetReadTimeout(1 * time.Millisecond); err != nil {
		logrus.Warn("could not set read timeout: ", err.Error())
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := p.Read(buf)
		if err != nil {

			// don't write out if we're just complaining about it being closed
			if perr, ok := err.(*serial.PortError); ok && perr.Code() == serial.PortClosed {
				return
			}
			if errors.Is(err, syscall.EBADF) || errors.Is(err, io.EOF) {
				return
			}

			logrus.Error("rx err: ", err.Error())
			return
		}

		if n > 0 {
			logrus.Debugf("mcu rx: %x", buf[:n])
		}
		for _, b := range buf[:n] {
			select {
			case out <- b:
			case <-stop:
				return
			}
		}
	}
}

// Write will write the specified bytes to the microcontroller
func (mc *Microcontroller) Write(bs ...[]byte) (err error) {
	if !mc.IsOpen() {
		return ErrClosed
	}

	if len(bs) == 0 {
		panic("must provide at least one []byte")
	}

	for _, b := range bs {
		_, err = mc.ttyPort.Write(b)
		if err != nil {
			return
		}
		logrus.Debugf("mcu tx: %x", b)
	}

	return
}

// ReadN will read exactly N bytes from the rx chan
func (mc *Microcontroller) ReadN(n int, to time.Duration) ([]byte, error) {
	if !mc.IsOpen() {
		return nil, ErrClosed
	}

	bs := make([]byte, n)
	timer := time.NewTimer(to)
	defer timer.Stop()

	for i := 0; i < n; i++ {
		select {
		case <-timer.C:
			return nil, ErrTimeout
		case <-mc.ttyDone:
			return nil, ErrClosed
		case b := <-mc.ttyRx:
			bs[i] = b
		}
	}

	return bs, nil
}
