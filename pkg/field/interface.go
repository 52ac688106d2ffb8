package field

// Device defines the interface for sensor hub devices (real or mocked).
type Device interface {
	Connect() error
	Close() error
	Frames() <-chan RawFrame
	SetOutputs(formation, unlocked bool, attenuator uint8) error
	IsConnected() bool
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)
