package uart

import (
	"encoding/binary"
	"time"

	"github.com/piotrjaromin/gpio"
	"github.com/pkg/errors"
)

var DefaultBaud = 115200

// Config defines configuration for communicating with and flashing the
// microcontroller through its system bootloader
type Config struct {
	// UseGPIO enables driving BOOT0/BOOT1/power to enter the bootloader.
	// Without it the chip must already be strapped into the bootloader.
	UseGPIO   bool
	Boot0GPIO int
	Boot1GPIO int
	PowerGPIO int

	BootloaderBaud int
	TTY            string
	Timeout        time.Duration
}

// Microcontroller represents an embedded microntroller chip that can be
// communicated with over UART
type Microcontroller struct {
	config *Config

	pinPower  gpio.Pin
	pinBoot0  gpio.Pin
	pinBoot1  gpio.Pin
	pinsReady bool

	stmCmdCodes          commandCodeMap
	stmBootloaderVersion byte
	synced               bool

	ttyPort port
	ttyRx   chan byte
	ttyStop chan struct{}
	ttyDone chan struct{}

	pid uint32
}

// NewMicrocontroller will create a new reference to a particular chip
func NewMicrocontroller(c *Config) *Microcontroller {
	if c == nil {
		c = &Config{}
	}
	cfg := *c

	if cfg.Boot0GPIO <= 0 {
		cfg.Boot0GPIO = 39
	}
	if cfg.Boot1GPIO <= 0 {
		cfg.Boot1GPIO = 41
	}
	if cfg.PowerGPIO <= 0 {
		cfg.PowerGPIO = 19
	}

	return &Microcontroller{
		config:      &cfg,
		stmCmdCodes: commandCodeMap{},
	}
}

func (mc *Microcontroller) setupPins() (err error) {
	if !mc.config.UseGPIO || mc.pinsReady {
		return nil
	}

	mc.pinPower, err = gpio.NewOutput(uint(mc.config.PowerGPIO), true)
	if err != nil {
		return
	}
	mc.pinBoot0, err = gpio.NewOutput(uint(mc.config.Boot0GPIO), false)
	if err != nil {
		return
	}
	mc.pinBoot1, err = gpio.NewOutput(uint(mc.config.Boot1GPIO), false)
	if err != nil {
		return
	}
	mc.pinsReady = true

	return
}

func (mc *Microcontroller) cleanupPins() {
	if !mc.pinsReady {
		return
	}
	mc.pinBoot0.Cleanup()
	mc.pinBoot1.Cleanup()
	mc.pinPower.Cleanup()
	mc.pinsReady = false
}

// Identify reports the product ID of the chip as returned by the
// bootloader, e.g. 0x414 for a high-density STM32F1
func (mc *Microcontroller) Identify() (uint32, error) {
	if mc.pid != 0 {
		return mc.pid, nil
	}

	if !mc.IsOpen() {
		return 0, ErrClosed
	}

	bs, err := mc.stmCmdGetId()
	if err != nil {
		return 0, err
	}
	if len(bs) < 2 {
		return 0, errors.Errorf("short product id %x", bs)
	}
	mc.pid = uint32(binary.BigEndian.Uint16(bs[len(bs)-2:]))

	return mc.pid, nil
}

// TTY will return the TTY that will be used
func (mc *Microcontroller) TTY() string {
	return mc.config.TTY
}

// BaudRate will return the baud rate used to connect to the TTY
func (mc *Microcontroller) BaudRate() int {
	if mc.config.BootloaderBaud > 0 {
		return mc.config.BootloaderBaud
	}
	return DefaultBaud
}

func (mc *Microcontroller) timeout() time.Duration {
	if mc.config.Timeout > 0 {
		return mc.config.Timeout
	}
	return STMTimeout
}

