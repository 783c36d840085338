package bikeserial

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

const maxReadTimeoutMs = 60000

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("baudrate", func(fl validator.FieldLevel) bool {
			return BaudRate(fl.Field().Int()).Valid()
		})
		_ = validate.RegisterValidation("portname", func(fl validator.FieldLevel) bool {
			return isValidPortPattern(fl.Field().String())
		})
	})
	return validate
}

// ValidateConfig validates device configuration parameters
func ValidateConfig(cfg *DeviceConfig) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}

	err := configValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, describeFieldError(fe))
	}
	return errors.Join(errs...)
}

func describeFieldError(fe validator.FieldError) error {
	switch fe.StructField() {
	case "BaudRate":
		return fmt.Errorf("invalid baud rate %v, must be one of: %v", fe.Value(), standardBaudRates)
	case "ReadTimeoutMs":
		if fe.Tag() == "gte" {
			return fmt.Errorf("read timeout cannot be negative: %v", fe.Value())
		}
		return fmt.Errorf("read timeout too large (max %dms): %v", maxReadTimeoutMs, fe.Value())
	case "PortName":
		name, _ := fe.Value().(string)
		if fe.Tag() == "max" {
			return fmt.Errorf("port name too long: %d characters", len(name))
		}
		return fmt.Errorf("port name doesn't match expected pattern: %s", name)
	}
	return fmt.Errorf("invalid %s: failed %q", fe.Field(), fe.Tag())
}

// NormalizeConfig resets fields that would fail validation to their defaults and
// returns the JSON names of the fields it touched. Dropping the port name also
// drops ModifiedTime, so the config is stale and the port is detected again.
func NormalizeConfig(cfg *DeviceConfig) []string {
	var reset []string
	if !BaudRate(cfg.BaudRate).Valid() {
		cfg.BaudRate = DefaultBaudRate
		reset = append(reset, "baudRate")
	}
	if cfg.ReadTimeoutMs < 0 || cfg.ReadTimeoutMs > maxReadTimeoutMs {
		cfg.ReadTimeoutMs = DefaultReadTimeoutMs
		reset = append(reset, "readTimeout")
	}
	if len(cfg.PortName) > 256 || (cfg.PortName != "" && !isValidPortPattern(cfg.PortName)) {
		cfg.PortName = ""
		cfg.ModifiedTime = time.Time{}
		reset = append(reset, "portName")
	}
	cfg.ModifiedTime = cfg.ModifiedTime.UTC()
	return reset
}
