package uart

import (
	"io"
	"sync"
	"testing"
	"time"
)

const fakeFlashBase = 0x08000000

// fakeChip emulates the parts of the STM32 ROM bootloader the driver uses.
// Its state outlives any one serial connection.
type fakeChip struct {
	mu       sync.Mutex
	pid      uint16
	extended bool
	flash    []byte
	pageSize int
	synced   bool
	erased   []uint16
	mass     bool
	opens    int
}

func newFakeChip(pid uint16, extended bool) *fakeChip {
	c := &fakeChip{pid: pid, extended: extended, flash: make([]byte, 0x4000), pageSize: 0x800}
	for i := range c.flash {
		c.flash[i] = 0xff
	}
	return c
}

// install points openPort at the chip for the duration of the test.
func (c *fakeChip) install(t *testing.T) {
	t.Helper()
	orig := openPort
	openPort = func(tty string, baud int) (port, error) {
		conn := &fakeConn{
			chip:   c,
			in:     make(chan byte, 1024),
			out:    make(chan byte, 1024),
			closed: make(chan struct{}),
		}
		c.mu.Lock()
		c.opens++
		c.mu.Unlock()
		go conn.run()
		return conn, nil
	}
	t.Cleanup(func() { openPort = orig })
}

func (c *fakeChip) memory(addr uint32, n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	off := addr - fakeFlashBase
	return append([]byte(nil), c.flash[off:off+uint32(n)]...)
}

type fakeConn struct {
	chip   *fakeChip
	in     chan byte
	out    chan byte
	closed chan struct{}
	once   sync.Once
}

func (f *fakeConn) Write(p []byte) (int, error) {
	for _, b := range p {
		select {
		case f.in <- b:
		case <-f.closed:
			return 0, io.ErrClosedPipe
		}
	}
	return len(p), nil
}

func (f *fakeConn) Read(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, io.EOF
	case b := <-f.out:
		p[0] = b
		n := 1
		for n < len(p) {
			select {
			case b := <-f.out:
				p[n] = b
				n++
			default:
				return n, nil
			}
		}
		return n, nil
	case <-time.After(time.Millisecond):
		return 0, nil
	}
}

func (f *fakeConn) SetReadTimeout(time.Duration) error {
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) next() (byte, bool) {
	select {
	case b := <-f.in:
		return b, true
	case <-f.closed:
		return 0, false
	}
}

func (f *fakeConn) nextN(n int) ([]byte, bool) {
	bs := make([]byte, n)
	for i := range bs {
		b, ok := f.next()
		if !ok {
			return nil, false
		}
		bs[i] = b
	}
	return bs, true
}

func (f *fakeConn) send(bs ...byte) {
	for _, b := range bs {
		select {
		case f.out <- b:
		case <-f.closed:
			return
		}
	}
}

func (f *fakeConn) run() {
	c := f.chip
	for {
		cmd, ok := f.next()
		if !ok {
			return
		}

		c.mu.Lock()
		synced := c.synced
		c.mu.Unlock()

		if cmd == b_STM_SYNC {
			if synced {
				f.send(b_STM_NACK)
			} else {
				c.mu.Lock()
				c.synced = true
				c.mu.Unlock()
				f.send(b_STM_ACK)
			}
			continue
		}
		if !synced {
			continue
		}

		x, ok := f.next()
		if !ok {
			return
		}
		if x != 0xff^cmd {
			f.send(b_STM_NACK)
			continue
		}

		if !f.handle(cmd) {
			return
		}
	}
}

func (f *fakeConn) readAddr() (uint32, bool) {
	bs, ok := f.nextN(5)
	if !ok {
		return 0, false
	}
	if checksum(bs[:4]) != bs[4] {
		f.send(b_STM_NACK)
		return 0, false
	}
	f.send(b_STM_ACK)
	return uint32(bs[0])<<24 | uint32(bs[1])<<16 | uint32(bs[2])<<8 | uint32(bs[3]), true
}

func (f *fakeConn) handle(cmd byte) bool {
	c := f.chip
	erase := stmEraseLegacy
	if c.extended {
		erase = stmEraseExtended
	}

	switch cmd {
	case 0x00:
		f.send(b_STM_ACK, 11, 0x31, 0x00, 0x01, 0x02, 0x11, 0x21, 0x31, erase, 0x63, 0x73, 0x82, 0x92, b_STM_ACK)
	case 0x01:
		f.send(b_STM_ACK, 0x31, 0x00, 0x00, b_STM_ACK)
	case 0x02:
		f.send(b_STM_ACK, 1, byte(c.pid>>8), byte(c.pid), b_STM_ACK)
	case 0x11:
		f.send(b_STM_ACK)
		addr, ok := f.readAddr()
		if !ok {
			return false
		}
		l, ok := f.nextN(2)
		if !ok || l[1] != 0xff^l[0] {
			return false
		}
		f.send(b_STM_ACK)
		f.send(c.memory(addr, int(l[0])+1)...)
	case 0x31:
		f.send(b_STM_ACK)
		addr, ok := f.readAddr()
		if !ok {
			return false
		}
		n, ok := f.next()
		if !ok {
			return false
		}
		rest, ok := f.nextN(int(n) + 2)
		if !ok {
			return false
		}
		data := rest[:len(rest)-1]
		if checksum(append([]byte{n}, data...)) != rest[len(rest)-1] || len(data)%4 != 0 {
			f.send(b_STM_NACK)
			return true
		}
		c.mu.Lock()
		off := addr - fakeFlashBase
		for i, b := range data {
			c.flash[off+uint32(i)] &= b
		}
		c.mu.Unlock()
		f.send(b_STM_ACK)
	case stmEraseLegacy:
		if c.extended {
			f.send(b_STM_NACK)
			return true
		}
		f.send(b_STM_ACK)
		n, ok := f.next()
		if !ok {
			return false
		}
		if n == 0xff {
			if _, ok := f.next(); !ok {
				return false
			}
			c.eraseAll()
			f.send(b_STM_ACK)
			return true
		}
		pages, ok := f.nextN(int(n) + 2)
		if !ok {
			return false
		}
		for _, p := range pages[:len(pages)-1] {
			c.erasePage(uint16(p))
		}
		f.send(b_STM_ACK)
	case stmEraseExtended:
		if !c.extended {
			f.send(b_STM_NACK)
			return true
		}
		f.send(b_STM_ACK)
		hdr, ok := f.nextN(2)
		if !ok {
			return false
		}
		if hdr[0] == 0xff && hdr[1] == 0xff {
			if _, ok := f.next(); !ok {
				return false
			}
			c.eraseAll()
			f.send(b_STM_ACK)
			return true
		}
		count := int(hdr[0])<<8 | int(hdr[1]) + 1
		body, ok := f.nextN(count*2 + 1)
		if !ok {
			return false
		}
		for i := 0; i < count; i++ {
			c.erasePage(uint16(body[2*i])<<8 | uint16(body[2*i+1]))
		}
		f.send(b_STM_ACK)
	default:
		f.send(b_STM_NACK)
	}
	return true
}

func (c *fakeChip) eraseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mass = true
	for i := range c.flash {
		c.flash[i] = 0xff
	}
}

func (c *fakeChip) erasePage(p uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.erased = append(c.erased, p)
	off := int(p) * c.pageSize
	for i := off; i < off+c.pageSize && i < len(c.flash); i++ {
		c.flash[i] = 0xff
	}
}
