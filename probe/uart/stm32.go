package uart

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const b_STM_ACK byte = 0x79
const b_STM_NACK byte = 0x1f
const b_STM_SYNC byte = 0x7f
const stmFlashBlockMax = 256

var STMTimeout = 5 * time.Second

// STMEraseTimeout bounds a mass erase, which takes tens of seconds on the
// larger parts
var STMEraseTimeout = 40 * time.Second

var ErrSTMFailedToAck = errors.New("failed to read ack or nack from stm microcontroller")
var ErrSTMNACK = errors.New("received nack from stm microcontroller")

type CommandCode int

// these must be the index of the bytes as received in the get data call
const (
	CommandCodeSync             CommandCode = -1
	CommandCodeGet              CommandCode = 0
	CommandCodeGetVersion       CommandCode = 1
	CommandCodeGetID            CommandCode = 2
	CommandCodeReadMemory       CommandCode = 3
	CommandCodeGo               CommandCode = 4
	CommandCodeWriteMemory      CommandCode = 5
	CommandCodeErase            CommandCode = 6
	CommandCodeWriteProtect     CommandCode = 7
	CommandCodeWriteUnprotect   CommandCode = 8
	CommandCodeReadoutProtect   CommandCode = 9
	CommandCodeReadoutUnprotect CommandCode = 10
)

const (
	stmEraseLegacy   byte = 0x43
	stmEraseExtended byte = 0x44
)

// these are the default command codes
type commandCodeMap map[CommandCode]byte

var defaultCmdCodeMap map[CommandCode]byte = map[CommandCode]byte{
	CommandCodeGet:              0x00,
	CommandCodeGetVersion:       0x01,
	CommandCodeGetID:            0x02,
	CommandCodeReadMemory:       0x11,
	CommandCodeGo:               0x21,
	CommandCodeWriteMemory:      0x31,
	CommandCodeErase:            stmEraseLegacy,
	CommandCodeWriteProtect:     0x63,
	CommandCodeWriteUnprotect:   0x73,
	CommandCodeReadoutProtect:   0x82,
	CommandCodeReadoutUnprotect: 0x92,
}

func (mc *Microcontroller) stmInit(to time.Duration) error {
	mc.enterSTBL()

	if err := mc.stmSync(to); err != nil {
		return err
	}
	return mc.stmCmdGet()
}

// stmSync will sync the autobaud of the bootloader. A bootloader that is
// already synced treats the sync byte as an unknown command and NACKs it.
func (mc *Microcontroller) stmSync(to time.Duration) error {
	if err := mc.Write([]byte{b_STM_SYNC}); err != nil {
		return err
	}
	err := mc.stmReadAckOrNackTimeout(to)
	if err == ErrSTMNACK {
		logrus.Debug("bootloader already synced")
		err = nil
	}
	if err != nil {
		return err
	}
	mc.synced = true
	return nil
}

// enterSTBL will execute the GPIO sequence to enter the STM bootloader
func (mc *Microcontroller) enterSTBL() {
	mc.synced = false
	if !mc.pinsReady {
		return
	}

	mc.pinPower.Low()

	// BOOT0 high and BOOT1 low when reapplying PWR will go into the bootloader
	// mode on STM32 chips
	mc.pinBoot0.High()
	mc.pinBoot1.Low()
	time.Sleep(10 * time.Millisecond)
	mc.pinPower.High()
	time.Sleep(10 * time.Millisecond)
}

// exitSTBL will execute the GPIO sequence to exit the STM bootloader
func (mc *Microcontroller) exitSTBL() {
	if !mc.pinsReady {
		return
	}

	mc.pinPower.Low()
	mc.pinBoot0.Low()
	mc.pinBoot1.Low()
	time.Sleep(10 * time.Millisecond)
	mc.pinPower.High()
	time.Sleep(10 * time.Millisecond)
	mc.synced = false
}

// stmCommandSequence will return the byte sequence required for the requested
// command
func (mc *Microcontroller) stmCommandSequence(c CommandCode) []byte {
	if c == CommandCodeSync {
		return []byte{b_STM_SYNC}
	}

	cmdb, ok := mc.stmCmdCodes[c]
	if !ok {
		cmdb, ok = defaultCmdCodeMap[c]
		if !ok {
			panic("unknown command code")
		}
	}

	return []byte{cmdb, 0xff ^ cmdb}
}

// stmExtendedErase reports whether the bootloader advertised the extended
// erase command in its GET response
func (mc *Microcontroller) stmExtendedErase() bool {
	return mc.stmCmdCodes[CommandCodeErase] == stmEraseExtended
}

// stmReadWithLength will read the next bytes based on a STM formatted message
// which is prefixed by a single byte that represents the length of the
// expected message
func (mc *Microcontroller) stmReadWithLength() ([]byte, error) {
	n, err := mc.ReadN(1, mc.timeout())
	if err != nil {
		return nil, err
	}
	if len(n) != 1 {
		return nil, errors.New("could not get length from stm microcontroller")
	}
	return mc.ReadN(int(n[0])+1, mc.timeout())
}

// stmWriteWithChecksum will write the requested data with a checksum at the end
func (mc *Microcontroller) stmWriteWithChecksum(bs []byte) error {
	cs := checksum(bs)
	return mc.Write(append(bs, cs))
}

// stmWriteWithNAndChecksum will write the data prefixed with the length in a
// single byte and suffixed with the checksum of the entire message
func (mc *Microcontroller) stmWriteWithNAndChecksum(bs []byte) error {
	n := byte(len(bs) - 1)
	return mc.stmWriteWithChecksum(append([]byte{n}, bs...))
}

// stmReadAckOrNack reads whether the pending byte is ACK, NACK, or neither
func (mc *Microcontroller) stmReadAckOrNack() error {
	return mc.stmReadAckOrNackTimeout(mc.timeout())
}

func (mc *Microcontroller) stmReadAckOrNackTimeout(to time.Duration) error {
	bs, err := mc.ReadN(1, to)
	if err != nil {
		return err
	}

	switch bs[0] {
	case b_STM_ACK:
		return nil
	case b_STM_NACK:
		return ErrSTMNACK
	}

	return ErrSTMFailedToAck
}

// stmWrite writes bs starting at addr in blocks the bootloader accepts. Each
// block is padded to a multiple of four bytes with 0xff.
func (mc *Microcontroller) stmWrite(addr uint32, bs []byte) error {
	for offset := 0; offset < len(bs); offset += stmFlashBlockMax {
		end := min(len(bs), offset+stmFlashBlockMax)
		block := bs[offset:end]
		if pad := len(block) % 4; pad != 0 {
			block = append(append([]byte{}, block...), make([]byte, 4-pad)...)
			for i := len(bs[offset:end]); i < len(block); i++ {
				block[i] = 0xff
			}
		}

		segAddr := addr + uint32(offset)
		logrus.Debugf("wm: %d -> %d @ %x [l=%d]", offset, end, segAddr, len(block))

		if err := mc.stmCmdWriteMemory(segAddr, block); err != nil {
			return errors.Wrapf(err, "could not write block at %#x", segAddr)
		}
	}

	return nil
}

// stmRead reads n bytes starting at addr in blocks the bootloader accepts
func (mc *Microcontroller) stmRead(addr uint32, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for offset := 0; offset < n; offset += stmFlashBlockMax {
		size := min(n-offset, stmFlashBlockMax)
		bs, err := mc.stmCmdReadMemory(addr+uint32(offset), size)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read block at %#x", addr+uint32(offset))
		}
		out = append(out, bs...)
	}
	return out, nil
}
