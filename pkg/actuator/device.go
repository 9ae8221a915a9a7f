package actuator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// ============================================
// PHYSICAL OUTPUT DEVICES
// Real GPIO via sysfs, plus a simulated fallback
// ============================================

// Device is the physical output capability driven by the Guard. Both
// implementations satisfy the same contract; callers never branch on
// which one they hold.
type Device interface {
	TurnOn() error
	TurnOff() error
	Close() error
}

// Open returns a GPIO device for the given pin, or the simulated device
// when the real hardware cannot be initialized. The guard works the same
// way over either; only the physical effect is absent.
func Open(pin int, logger *zap.Logger) Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	dev, err := OpenGPIO(pin)
	if err != nil {
		logger.Warn("GPIO unavailable, using simulated device",
			zap.Int("pin", pin), zap.Error(err))
		return NewSimulated(pin, logger)
	}
	logger.Info("GPIO device initialized", zap.Int("pin", pin))
	return dev
}

// ============================================
// SYSFS GPIO
// ============================================

const gpioRoot = "/sys/class/gpio"

// GPIODevice drives a single output pin through the sysfs GPIO
// interface.
type GPIODevice struct {
	pin       int
	valuePath string
}

// OpenGPIO exports the pin and configures it as an output.
func OpenGPIO(pin int) (*GPIODevice, error) {
	pinDir := filepath.Join(gpioRoot, fmt.Sprintf("gpio%d", pin))

	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		exportPath := filepath.Join(gpioRoot, "export")
		if err := os.WriteFile(exportPath, []byte(strconv.Itoa(pin)), 0o644); err != nil {
			return nil, fmt.Errorf("failed to export pin %d: %w", pin, err)
		}
	}

	directionPath := filepath.Join(pinDir, "direction")
	if err := os.WriteFile(directionPath, []byte("out"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to set pin %d direction: %w", pin, err)
	}

	return &GPIODevice{
		pin:       pin,
		valuePath: filepath.Join(pinDir, "value"),
	}, nil
}

func (d *GPIODevice) TurnOn() error {
	if err := os.WriteFile(d.valuePath, []byte("1"), 0o644); err != nil {
		return fmt.Errorf("failed to drive pin %d high: %w", d.pin, err)
	}
	return nil
}

func (d *GPIODevice) TurnOff() error {
	if err := os.WriteFile(d.valuePath, []byte("0"), 0o644); err != nil {
		return fmt.Errorf("failed to drive pin %d low: %w", d.pin, err)
	}
	return nil
}

// Close drives the pin low and unexports it.
func (d *GPIODevice) Close() error {
	offErr := d.TurnOff()

	unexportPath := filepath.Join(gpioRoot, "unexport")
	if err := os.WriteFile(unexportPath, []byte(strconv.Itoa(d.pin)), 0o644); err != nil {
		return fmt.Errorf("failed to unexport pin %d: %w", d.pin, err)
	}
	return offErr
}

// ============================================
// SIMULATED DEVICE
// ============================================

// Simulated is a no-op Device that only logs transitions. Used when GPIO
// hardware is unavailable and in tests.
type Simulated struct {
	pin    int
	logger *zap.Logger
}

// NewSimulated creates a simulated device for the given pin number.
func NewSimulated(pin int, logger *zap.Logger) *Simulated {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulated{pin: pin, logger: logger}
}

func (s *Simulated) TurnOn() error {
	s.logger.Info("simulated pin ON", zap.Int("pin", s.pin))
	return nil
}

func (s *Simulated) TurnOff() error {
	s.logger.Info("simulated pin OFF", zap.Int("pin", s.pin))
	return nil
}

func (s *Simulated) Close() error {
	return nil
}
