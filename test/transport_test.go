package test

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// rtuOverTCP carries raw RTU frames over one TCP connection, the way the
// gateway's tcp_listen upstream expects them. It implements
// modbus.Transporter so the library's RTU packager can be reused.
type rtuOverTCP struct {
	address string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func (t *rtuOverTCP) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", t.address, t.timeout)
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

func (t *rtuOverTCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// Send writes one request and reads exactly one response frame.
func (t *rtuOverTCP) Send(aduRequest []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	if err := t.conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, err
	}
	if _, err := t.conn.Write(aduRequest); err != nil {
		return nil, err
	}

	// slave, function, then the byte count, exception code or address
	head := make([]byte, 3)
	if _, err := io.ReadFull(t.conn, head); err != nil {
		return nil, err
	}
	var length int
	switch fc := head[1]; {
	case fc&0x80 != 0:
		length = 5
	case fc >= 0x01 && fc <= 0x04:
		length = 3 + int(head[2]) + 2
	case fc == 0x05 || fc == 0x06 || fc == 0x0F || fc == 0x10:
		length = 8
	default:
		return nil, fmt.Errorf("unexpected function code 0x%02X", fc)
	}
	adu := make([]byte, length)
	copy(adu, head)
	if _, err := io.ReadFull(t.conn, adu[3:]); err != nil {
		return nil, err
	}
	return adu, nil
}

// newClient connects an RTU-over-TCP client to the gateway.
func newClient(address string, slaveID byte) (modbus.Client, *rtuOverTCP, error) {
	packager := modbus.NewRTUClientHandler("")
	packager.SlaveId = slaveID
	transporter := &rtuOverTCP{address: address, timeout: 2 * time.Second}
	if err := transporter.Connect(); err != nil {
		return nil, nil, err
	}
	return modbus.NewClient2(packager, transporter), transporter, nil
}
