package telemetry

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// MACPattern is the accepted MAC address form: six colon-separated hex octets.
var MACPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// RegisterValidations installs the telemetry rules ("macaddr") on v and makes
// it report fields by their JSON names.
func RegisterValidations(v *validator.Validate) error {
	v.RegisterTagNameFunc(jsonFieldName)
	if err := v.RegisterValidation("macaddr", func(fl validator.FieldLevel) bool {
		return MACPattern.MatchString(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("failed to register macaddr validation: %w", err)
	}
	return nil
}

// Validator returns the shared validator. It reads "binding" tags so the same
// rules apply to HTTP bodies bound by gin and to queue payloads.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.SetTagName("binding")
		if err := RegisterValidations(validate); err != nil {
			panic(err)
		}
	})
	return validate
}

// Validate checks v against its binding tags.
func Validate(v any) error {
	return Validator().Struct(v)
}

// ValidMAC reports whether mac is a well-formed MAC address.
func ValidMAC(mac string) bool {
	return MACPattern.MatchString(mac)
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return field.Name
	default:
		return name
	}
}
