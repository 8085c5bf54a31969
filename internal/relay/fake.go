package relay

// FakeDriver is a test double that records physical levels.
type FakeDriver struct {
	// High is the current physical level.
	High bool

	// Writes records every level passed to SetLevel.
	Writes []bool

	// SetError, if set, will be returned by SetLevel.
	SetError error

	// LevelError, if set, will be returned by Level.
	LevelError error

	// Stuck makes SetLevel succeed without changing High.
	Stuck bool

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeDriver creates a FakeDriver at the given level.
func NewFakeDriver(high bool) *FakeDriver {
	return &FakeDriver{High: high}
}

// SetLevel records the write.
func (f *FakeDriver) SetLevel(high bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.Writes = append(f.Writes, high)
	if !f.Stuck {
		f.High = high
	}
	return nil
}

// Level returns the current level.
func (f *FakeDriver) Level() (bool, error) {
	if f.LevelError != nil {
		return false, f.LevelError
	}
	return f.High, nil
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.Closed = true
	return nil
}
