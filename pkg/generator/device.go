// Package generator simulates ESP32 field controllers and their sensor readings.
package generator

import (
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
)

// Device is a simulated field controller installed in one greenhouse zone.
type Device struct {
	MACAddress string `fake:"{macaddress}"`
	Crop       string `fake:"{randomstring:[Tomate,Lechuga,Pimiento,Fresa,Albahaca,Pepino]}"`
	Greenhouse string `fake:"{number:1,12}"`
	Zone       string `fake:"skip"`
}

// NewDevice creates a device with a random MAC address and zone name.
func NewDevice() (*Device, error) {
	var device Device
	if err := gofakeit.Struct(&device); err != nil {
		return nil, fmt.Errorf("failed to generate device: %w", err)
	}

	// ESP32 firmware reports its MAC in upper case.
	device.MACAddress = strings.ToUpper(device.MACAddress)
	device.Zone = fmt.Sprintf("Invernadero %s - %s", device.Greenhouse, device.Crop)
	return &device, nil
}
