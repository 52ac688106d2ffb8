package field

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	// SensorCount is the number of channels in the sensor array.
	SensorCount = 19
	// CenterSensor is the index of the center channel of the array.
	CenterSensor = 9
	// DefaultBaudRate is the standard baud rate for the sensor hub MCU.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the frames channel buffer.
	DefaultBufferSize = 100
	// adcMax is the full-scale 12-bit ADC count.
	adcMax = 4095
)

// RawFrame represents one raw sensor scan from the MCU.
type RawFrame struct {
	Timestamp time.Time
	Readings  [SensorCount]uint16 // 12-bit ADC readings (0-4095)
	Magnetic  uint16              // 12-bit magnetometer magnitude reading
}

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial represents a connection to the sensor hub MCU.
type Serial struct {
	port     string
	baudRate int
	bufSize  int

	conn      serial.Port
	frames    chan RawFrame
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
}

// New creates a new Serial device with the specified port, baud rate, and buffer size.
func New(port string, baudRate int, bufSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:      port,
		baudRate:  baudRate,
		bufSize:   bufSize,
		frames:    make(chan RawFrame, bufSize),
		ctx:       ctx,
		cancel:    cancel,
		connected: false,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

// Connect connects to the serial port and starts reading frames.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	mode := &serial.Mode{
		BaudRate: d.baudRate,
	}

	port, err := serial.Open(d.port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.connected = true

	// Start reading frames in a goroutine
	go d.readFrames()

	return nil
}

// Close closes the connection and stops reading frames.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	// Cancel context to stop reading goroutine
	d.cancel()

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			log.Printf("Error closing serial port: %v", err)
		}
		d.conn = nil
	}

	d.connected = false

	close(d.frames)

	return nil
}

// Frames returns the channel for reading frames.
func (d *Serial) Frames() <-chan RawFrame {
	return d.frames
}

// SetOutputs sets the indicator states and attenuator step on the MCU.
// Command format: "F<0|1>U<0|1>A<step>\n".
func (d *Serial) SetOutputs(formation, unlocked bool, attenuator uint8) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return fmt.Errorf("not connected")
	}

	var cmd strings.Builder
	cmd.WriteByte('F')
	if formation {
		cmd.WriteByte('1')
	} else {
		cmd.WriteByte('0')
	}
	cmd.WriteByte('U')
	if unlocked {
		cmd.WriteByte('1')
	} else {
		cmd.WriteByte('0')
	}
	cmd.WriteByte('A')
	cmd.WriteString(strconv.Itoa(int(attenuator)))
	cmd.WriteByte('\n')

	_, err := d.conn.Write([]byte(cmd.String()))
	if err != nil {
		return fmt.Errorf("failed to send output command: %w", err)
	}

	return nil
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// readFrames reads lines from the serial port and parses them into RawFrame.
func (d *Serial) readFrames() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic in readFrames: %v", r)
		}
	}()

	scanner := bufio.NewScanner(d.conn)
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					if err != io.EOF {
						log.Printf("Error reading from serial port: %v", err)
					}
				}
				return
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			frame, err := parseLine(line)
			if err != nil {
				log.Printf("Failed to parse line '%s': %v", line, err)
				continue
			}

			// Send frame to channel (non-blocking)
			select {
			case d.frames <- frame:
			case <-d.ctx.Done():
				return
			default:
				// Channel full, log and skip
				log.Printf("Frames channel full, dropping frame")
			}
		}
	}
}

// parseLine parses a line from the MCU into a RawFrame.
// Format: unix_micros,ch0,ch1,...,ch18,mag
// Example: 1234567890123,2048,2048,...,1024,512
func parseLine(line string) (RawFrame, error) {
	parts := strings.Split(line, ",")
	if len(parts) != SensorCount+2 {
		return RawFrame{}, fmt.Errorf("invalid line format: expected %d comma-separated values, got %d",
			SensorCount+2, len(parts))
	}

	// Parse timestamp (unix microseconds)
	timestampMicros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return RawFrame{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	timestamp := time.Unix(0, timestampMicros*1000) // Convert microseconds to nanoseconds

	var frame RawFrame
	frame.Timestamp = timestamp

	// Parse sensor channels (12-bit ADC)
	for i := 0; i < SensorCount; i++ {
		reading, err := strconv.ParseUint(parts[1+i], 10, 16)
		if err != nil {
			return RawFrame{}, fmt.Errorf("invalid channel %d reading: %w", i, err)
		}
		if reading > adcMax {
			return RawFrame{}, fmt.Errorf("channel %d reading out of range: %d (max %d)", i, reading, adcMax)
		}
		frame.Readings[i] = uint16(reading)
	}

	// Parse magnetometer magnitude (12-bit ADC)
	mag, err := strconv.ParseUint(parts[SensorCount+1], 10, 16)
	if err != nil {
		return RawFrame{}, fmt.Errorf("invalid magnetometer reading: %w", err)
	}
	if mag > adcMax {
		return RawFrame{}, fmt.Errorf("magnetometer reading out of range: %d (max %d)", mag, adcMax)
	}
	frame.Magnetic = uint16(mag)

	return frame, nil
}
