package vm

import "fmt"

// A Config carries the geometry of the simulated system. It is fixed when
// the system is built and never changes at runtime.
type Config struct {
	// OuterBits is the number of VPN bits that index the outer directory.
	OuterBits uint

	// InnerBits is the number of VPN bits that index an inner directory.
	InnerBits uint

	// NumFrames is the number of physical page frames.
	NumFrames int

	// FrameSize is the number of bytes of modeled payload per frame.
	FrameSize int
}

// OuterEntries returns the number of slots in an outer directory.
func (c Config) OuterEntries() int {
	return 1 << c.OuterBits
}

// InnerEntries returns the number of PTEs in an inner directory.
func (c Config) InnerEntries() int {
	return 1 << c.InnerBits
}

// NumVPNs returns the number of virtual pages a process can address.
func (c Config) NumVPNs() uint64 {
	return 1 << (c.OuterBits + c.InnerBits)
}

// Validate returns an error if the configuration cannot describe a system.
func (c Config) Validate() error {
	if c.OuterBits == 0 || c.OuterBits > 16 {
		return fmt.Errorf("outer bits must be in [1, 16], got %d", c.OuterBits)
	}

	if c.InnerBits == 0 || c.InnerBits > 16 {
		return fmt.Errorf("inner bits must be in [1, 16], got %d", c.InnerBits)
	}

	if c.NumFrames <= 0 {
		return fmt.Errorf("frame count must be positive, got %d", c.NumFrames)
	}

	if c.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", c.FrameSize)
	}

	return nil
}

// MustValidate panics if the configuration is invalid.
func (c Config) MustValidate() {
	if err := c.Validate(); err != nil {
		panic(err)
	}
}
