package uart

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// stmExecCmd will run the specified command and check that it is ACK'd
func (mc *Microcontroller) stmExecCmd(c CommandCode) error {
	if err := mc.Write(mc.stmCommandSequence(c)); err != nil {
		return err
	}
	if err := mc.stmReadAckOrNack(); err != nil {
		return err
	}
	return nil
}

// stmCmdGet will load information about the bootloader
func (mc *Microcontroller) stmCmdGet() error {
	if err := mc.stmExecCmd(CommandCodeGet); err != nil {
		return err
	}

	bs, err := mc.stmReadWithLength()
	if err != nil {
		return err
	}

	if err = mc.stmReadAckOrNack(); err != nil {
		return err
	}

	mc.stmBootloaderVersion = bs[0]

	// get the command codes from the response
	for i := 0; i < len(bs)-1; i++ {
		mc.stmCmdCodes[CommandCode(i)] = bs[i+1]
	}

	return nil
}

// stmCmdGetVersion returns the bootloader version byte. The bootloader only
// answers while it owns the core, so a reply means the application is not
// running.
func (mc *Microcontroller) stmCmdGetVersion() (byte, error) {
	if err := mc.stmExecCmd(CommandCodeGetVersion); err != nil {
		return 0, err
	}

	// version followed by two option bytes
	bs, err := mc.ReadN(3, mc.timeout())
	if err != nil {
		return 0, err
	}

	return bs[0], mc.stmReadAckOrNack()
}

// stmCmdGetId will return the raw PID bytes of the microcontroller
func (mc *Microcontroller) stmCmdGetId() ([]byte, error) {
	if err := mc.stmExecCmd(CommandCodeGetID); err != nil {
		return nil, err
	}

	bs, err := mc.stmReadWithLength()
	if err != nil {
		return nil, err
	}

	if err = mc.stmReadAckOrNack(); err != nil {
		return nil, err
	}

	return bs, nil
}

// stmWriteAddress sends a big endian address followed by its checksum and
// waits for the ACK
func (mc *Microcontroller) stmWriteAddress(addr uint32) error {
	buf := bytes.NewBuffer([]byte{})
	if err := binary.Write(buf, binary.BigEndian, addr); err != nil {
		return err
	}

	addrbs := buf.Bytes()

	if err := mc.Write(append(addrbs, checksum(addrbs))); err != nil {
		return errors.Wrap(err, "err writing addr")
	}
	return errors.Wrap(mc.stmReadAckOrNack(), "addr ack fail")
}

// stmCmdReadMemory reads up to 256 bytes at addr
func (mc *Microcontroller) stmCmdReadMemory(addr uint32, n int) ([]byte, error) {
	if n <= 0 || n > stmFlashBlockMax {
		return nil, errors.Errorf("invalid read length %d", n)
	}

	if err := mc.stmExecCmd(CommandCodeReadMemory); err != nil {
		return nil, errors.Wrap(err, "err exec read mem")
	}
	if err := mc.stmWriteAddress(addr); err != nil {
		return nil, err
	}

	l := byte(n - 1)
	if err := mc.Write([]byte{l, 0xff ^ l}); err != nil {
		return nil, err
	}
	if err := mc.stmReadAckOrNack(); err != nil {
		return nil, errors.Wrap(err, "length ack fail")
	}

	return mc.ReadN(n, mc.timeout())
}

// stmCmdEraseMemory will request that all flash memory be erased
func (mc *Microcontroller) stmCmdEraseMemory() error {
	if err := mc.stmExecCmd(CommandCodeErase); err != nil {
		return err
	}

	seq := []byte{0xff, 0x00}
	if mc.stmExtendedErase() {
		seq = []byte{0xff, 0xff, 0x00}
	}
	if err := mc.Write(seq); err != nil {
		return err
	}

	return mc.stmReadAckOrNackTimeout(STMEraseTimeout)
}

// stmCmdErasePages erases the numbered flash pages. With the extended erase
// command the numbers are sector indices on parts with sectored flash.
func (mc *Microcontroller) stmCmdErasePages(pages ...uint16) error {
	if len(pages) == 0 {
		return nil
	}

	var msg []byte
	if mc.stmExtendedErase() {
		msg = binary.BigEndian.AppendUint16(msg, uint16(len(pages)-1))
		for _, p := range pages {
			msg = binary.BigEndian.AppendUint16(msg, p)
		}
	} else {
		if len(pages) > 255 {
			return errors.Errorf("too many pages for erase: %d", len(pages))
		}
		msg = append(msg, byte(len(pages)-1))
		for _, p := range pages {
			if p > 0xff {
				return errors.Errorf("page %d out of range for legacy erase", p)
			}
			msg = append(msg, byte(p))
		}
	}

	if err := mc.stmExecCmd(CommandCodeErase); err != nil {
		return err
	}
	if err := mc.stmWriteWithChecksum(msg); err != nil {
		return err
	}

	return mc.stmReadAckOrNackTimeout(STMEraseTimeout)
}

// stmCmdWriteMemory will attempt to write the requested data at the provided
// address in memory
func (mc *Microcontroller) stmCmdWriteMemory(addr uint32, data []byte) error {
	if err := mc.stmExecCmd(CommandCodeWriteMemory); err != nil {
		return errors.Wrap(err, "err exec write mem")
	}

	if err := mc.stmWriteAddress(addr); err != nil {
		return err
	}

	// write the data with length and checksum
	if err := mc.stmWriteWithNAndChecksum(data); err != nil {
		return errors.Wrap(err, "err writing data")
	}

	return errors.Wrap(mc.stmReadAckOrNack(), "err ack after write data")
}
