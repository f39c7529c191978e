package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// pipeTickInterval is how often the pump delivers queued pipe traffic.
const pipeTickInterval = time.Millisecond

// Pipe is an in-memory connection pair for deterministic tests: the server
// side is adopted with TCP.AddConnection, the client side is used as a raw
// dial. Backed by a pion test bridge with a background pump, so traffic
// flows without real sockets.
type Pipe struct {
	bridge *test.Bridge

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPipe creates a pumped pipe.
func NewPipe() *Pipe {
	p := &Pipe{
		bridge: test.NewBridge(),
		stopCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.pump()
	return p
}

func (p *Pipe) pump() {
	defer p.wg.Done()
	ticker := time.NewTicker(pipeTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.bridge.Tick()
		}
	}
}

// Conn0 returns one end of the pipe.
func (p *Pipe) Conn0() net.Conn { return p.bridge.GetConn0() }

// Conn1 returns the other end of the pipe.
func (p *Pipe) Conn1() net.Conn { return p.bridge.GetConn1() }

// Process synchronously delivers all queued traffic in both directions.
func (p *Pipe) Process() {
	for p.bridge.Tick() > 0 {
	}
}

// Close stops the pump and closes both ends.
func (p *Pipe) Close() error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}
