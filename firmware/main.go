//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"
)

const numChannels = 19

var (
	adcMux    machine.ADC
	adcDirect [3]machine.ADC
	adcMag    machine.ADC
	uart      = machine.UART0

	spi = machine.SPI0

	// Output states
	formationLED bool
	unlockLED    bool
	attenuator   uint8

	// Scan averaging - running sums and count
	channelSums [numChannels]uint32
	magSum      uint32
	scanCount   int

	// Timing
	lastScan time.Time

	// Serial buffer for reading command lines
	serialBuffer [16]byte
	serialPos    int
)

func main() {
	// Configure multiplexer select pins
	PIN_MUX_S0.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_MUX_S1.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_MUX_S2.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_MUX_S3.Configure(machine.PinConfig{Mode: machine.PinOutput})

	// Configure indicator outputs
	PIN_FORMATION_LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_UNLOCK_LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_CS_DIGIPOT.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_CS_DIGIPOT.High()

	// Configure ADC pins with highest resolution
	PIN_MUX_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_ADC_16.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_ADC_17.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_ADC_18.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_MAG.Configure(machine.PinConfig{Mode: machine.PinInput})

	adcMux = machine.ADC{Pin: PIN_MUX_ADC}
	adcDirect[0] = machine.ADC{Pin: PIN_ADC_16}
	adcDirect[1] = machine.ADC{Pin: PIN_ADC_17}
	adcDirect[2] = machine.ADC{Pin: PIN_ADC_18}
	adcMag = machine.ADC{Pin: PIN_MAG}

	adcConfig := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}
	adcMux.Configure(adcConfig)
	adcDirect[0].Configure(adcConfig)
	adcDirect[1].Configure(adcConfig)
	adcDirect[2].Configure(adcConfig)
	adcMag.Configure(adcConfig)

	// Configure UART for command input
	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	// Configure SPI for the attenuator digipot
	spi.Configure(machine.SPIConfig{
		Frequency: 1000000,
	})

	lastScan = time.Now()

	// Main loop
	for {
		now := time.Now()

		// Check for serial input (non-blocking)
		processSerial()

		// Scan the full array at a fixed rate
		if now.Sub(lastScan) >= time.Duration(SAMPLE_INTERVAL_MS)*time.Millisecond {
			scanArray()
			lastScan = now
		}

		// Output once enough scans have accumulated
		if scanCount >= NUM_SAMPLES {
			outputFrame()
			for i := range channelSums {
				channelSums[i] = 0
			}
			magSum = 0
			scanCount = 0
		}

		// Small delay to prevent tight loop (but still allow precise timing)
		time.Sleep(100 * time.Microsecond)
	}
}

// selectMuxChannel drives the multiplexer select lines.
func selectMuxChannel(ch int) {
	setPin(PIN_MUX_S0, ch&1 != 0)
	setPin(PIN_MUX_S1, ch&2 != 0)
	setPin(PIN_MUX_S2, ch&4 != 0)
	setPin(PIN_MUX_S3, ch&8 != 0)
}

func setPin(pin machine.Pin, high bool) {
	if high {
		pin.High()
	} else {
		pin.Low()
	}
}

// scanArray reads all 19 channels plus the magnetometer once.
func scanArray() {
	for ch := 0; ch < 16; ch++ {
		selectMuxChannel(ch)
		// Settling time for the multiplexer before sampling
		time.Sleep(5 * time.Microsecond)
		channelSums[ch] += uint32(adcMux.Get())
	}
	for i := 0; i < 3; i++ {
		channelSums[16+i] += uint32(adcDirect[i].Get())
	}
	magSum += uint32(adcMag.Get())
	scanCount++
}

// outputFrame prints one averaged CSV frame.
// Format: "unix_micros,ch0,...,ch18,mag\n"
func outputFrame() {
	n := scanCount
	if n == 0 {
		n = 1 // Avoid division by zero
	}

	timestampMicros := time.Now().UnixNano() / 1000

	print(timestampMicros)
	for i := range channelSums {
		print(",")
		print(uint16(channelSums[i] / uint32(n)))
	}
	print(",")
	print(uint16(magSum / uint32(n)))
	print("\n")
}

// processSerial consumes command lines of the form "F<0|1>U<0|1>A<step>".
func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if serialPos > 0 {
				parseCommand()
			}
			serialPos = 0
			continue
		}

		// Ignore whitespace
		if data == ' ' || data == '\t' {
			continue
		}

		if serialPos < len(serialBuffer) {
			serialBuffer[serialPos] = data
			serialPos++
		} else {
			// Overlong line - reset buffer
			serialPos = 0
		}
	}
}

// parseCommand applies the output states from the serial buffer.
func parseCommand() {
	i := 0
	changedAttenuator := false

	for i < serialPos {
		switch serialBuffer[i] {
		case 'F':
			i++
			if i < serialPos {
				formationLED = serialBuffer[i] == '1'
				i++
			}
		case 'U':
			i++
			if i < serialPos {
				unlockLED = serialBuffer[i] == '1'
				i++
			}
		case 'A':
			i++
			var value uint16
			for i < serialPos && serialBuffer[i] >= '0' && serialBuffer[i] <= '9' {
				value = value*10 + uint16(serialBuffer[i]-'0')
				i++
			}
			if value > 255 {
				value = 255
			}
			attenuator = uint8(value)
			changedAttenuator = true
		default:
			// Invalid character - discard the rest of the line
			return
		}
	}

	setPin(PIN_FORMATION_LED, formationLED)
	setPin(PIN_UNLOCK_LED, unlockLED)
	if changedAttenuator {
		writeAttenuator(attenuator)
	}
}

// writeAttenuator writes the attenuation step to the MCP41010 digipot.
func writeAttenuator(step uint8) {
	PIN_CS_DIGIPOT.Low()
	spi.Transfer(0x11) // Write command
	spi.Transfer(step)
	PIN_CS_DIGIPOT.High()
}
