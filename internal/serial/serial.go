package serial

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"bioreactor-controller/internal/logger"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// ErrLinkClosed is returned once the link has been closed.
var ErrLinkClosed = errors.New("serial link is closed")

var errReadTimeout = errors.New("read timeout")

// maxPending bounds buffered input that never produced a newline.
const maxPending = 64 * 1024

// Port is the subset of go.bug.st/serial.Port the link needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Link owns the serial channel. Every operation holds the link lock, so a
// write can never interleave with another caller's expected response.
type Link struct {
	mu      sync.Mutex
	port    Port
	name    string
	pending []byte
}

// Open opens the named port at the given baud rate.
func Open(portName string, baud int) (*Link, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	logger.Info("Successfully opened serial port: %s", portName)
	return NewLink(p, portName), nil
}

// NewLink wraps an already opened port.
func NewLink(p Port, name string) *Link {
	return &Link{port: p, name: name}
}

// Name returns the port name.
func (l *Link) Name() string {
	return l.name
}

// ReadPacket waits up to timeout for one line. It returns (nil, nil) on timeout
// or on an empty line, and a *DecodeError for a line that is not JSON.
func (l *Link) ReadPacket(timeout time.Duration) (*Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readPacket(timeout)
}

// WriteCommand sends one command line.
func (l *Link) WriteCommand(cmd Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(cmd)
}

// Exchange writes cmd and then reads the next packet while holding the link
// lock for the whole interaction.
func (l *Link) Exchange(cmd Command, timeout time.Duration) (*Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.write(cmd); err != nil {
		return nil, err
	}
	return l.readPacket(timeout)
}

// Close closes the port. Further calls fail with ErrLinkClosed.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	logger.Info("Closed serial port: %s", l.name)
	return err
}

func (l *Link) write(cmd Command) error {
	if l.port == nil {
		return ErrLinkClosed
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command %s: %w", cmd, err)
	}
	logger.Debug("Sending to device: %s", data)
	if _, err := l.port.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to serial port %s: %w", l.name, err)
	}
	return nil
}

func (l *Link) readPacket(timeout time.Duration) (*Packet, error) {
	line, err := l.readLine(timeout)
	if errors.Is(err, errReadTimeout) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	logger.Debug("Received from device: %s", line)
	return DecodePacket([]byte(line))
}

// readLine returns the next newline-terminated line. Bytes read past the
// newline are kept for the next call.
func (l *Link) readLine(timeout time.Duration) (string, error) {
	if l.port == nil {
		return "", ErrLinkClosed
	}
	if line, ok := l.takeLine(); ok {
		return line, nil
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 256)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", errReadTimeout
		}
		if err := l.port.SetReadTimeout(remaining); err != nil {
			return "", fmt.Errorf("failed to set read timeout: %w", err)
		}
		n, err := l.port.Read(buf)
		if n > 0 {
			l.pending = append(l.pending, buf[:n]...)
			if line, ok := l.takeLine(); ok {
				return line, nil
			}
			if len(l.pending) > maxPending {
				logger.Warn("Discarding %d bytes of unterminated input from %s", len(l.pending), l.name)
				l.pending = nil
			}
		}
		if err != nil {
			return "", fmt.Errorf("failed to read from serial port %s: %w", l.name, err)
		}
	}
}

func (l *Link) takeLine() (string, bool) {
	i := bytes.IndexByte(l.pending, '\n')
	if i < 0 {
		return "", false
	}
	line := string(l.pending[:i])
	l.pending = l.pending[i+1:]
	return line, true
}

// FindPort probes the USB serial ports for a device that streams JSON lines.
func FindPort(baud int) (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		logger.Warn("FindPort: enumerator.GetDetailedPortsList returned an error: %v.", err)
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found on the system")
	}

	logger.Info("Found %d serial ports. Probing for the reactor controller...", len(ports))
	for _, port := range ports {
		logger.Debug("Checking port: %s (IsUSB: %t, VID: %s, PID: %s)", port.Name, port.IsUSB, port.VID, port.PID)
		if !port.IsUSB {
			logger.Debug("Skipping port %s: Not a USB port.", port.Name)
			continue
		}
		logger.Info("Probing port: %s", port.Name)
		if probePortWithTimeout(port.Name, baud, 4*time.Second) {
			return port.Name, nil
		}
	}
	return "", errors.New("could not find the reactor controller on any USB serial port")
}

// probePortWithTimeout opens the port and waits for one JSON line. The port is
// closed when the hard timeout expires even if the probe is still blocked.
func probePortWithTimeout(portName string, baud int, timeout time.Duration) bool {
	resultChan := make(chan bool, 1)

	var probePort serial.Port
	var probeMutex sync.Mutex

	go func() {
		p, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
		if err != nil {
			logger.Warn("Could not open port %s to probe: %v", portName, err)
			resultChan <- false
			return
		}
		probeMutex.Lock()
		probePort = p
		probeMutex.Unlock()

		link := NewLink(p, portName)
		pkt, err := link.ReadPacket(timeout - 500*time.Millisecond)

		probeMutex.Lock()
		if probePort != nil {
			probePort.Close()
			probePort = nil
		}
		probeMutex.Unlock()

		if err != nil || pkt == nil {
			logger.Debug("Port %s: no JSON packet received: %v", portName, err)
			resultChan <- false
			return
		}
		logger.Info("Successfully probed port: %s", portName)
		resultChan <- true
	}()

	select {
	case ok := <-resultChan:
		return ok
	case <-time.After(timeout):
		logger.Warn("Port %s: Probe timed out after %v. Forcing cleanup.", portName, timeout)
		probeMutex.Lock()
		if probePort != nil {
			probePort.Close()
			probePort = nil
		}
		probeMutex.Unlock()
		return false
	}
}
