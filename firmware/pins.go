package main

import "machine"

const (
	// Sampling configuration
	SAMPLE_INTERVAL_MS = 1  // full array scan interval in milliseconds
	NUM_SAMPLES        = 20 // number of scans averaged per output frame

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)

	// Sensor channels 0-15 go through a 74HC4067 analog multiplexer;
	// channels 16-18 and the magnetometer magnitude are wired directly.
	PIN_MUX_S0  = machine.D2
	PIN_MUX_S1  = machine.D3
	PIN_MUX_S2  = machine.D4
	PIN_MUX_S3  = machine.D5
	PIN_MUX_ADC = machine.A0

	PIN_ADC_16 = machine.A1
	PIN_ADC_17 = machine.A2
	PIN_ADC_18 = machine.A3
	PIN_MAG    = machine.A10

	// Indicator outputs
	PIN_FORMATION_LED = machine.D7
	PIN_UNLOCK_LED    = machine.D8

	// MCP41010 digipot chip select (attenuator)
	PIN_CS_DIGIPOT = machine.D9

	// Serial configuration
	// Format "unix_micros,ch0,...,ch18,mag\n": 21 fields, worst case
	// ~110 bytes per line. 50 frames/sec * 110 bytes = 5,500 bytes/sec.
	// UART 8N1: 10 bits/byte = 55,000 baud minimum. 115200 provides
	// ~2x headroom.
	UART_BAUD_RATE = 115200
)
