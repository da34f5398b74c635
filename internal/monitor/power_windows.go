package monitor

import (
	"context"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

var procGetSystemPowerStatus = windows.NewLazySystemDLL("kernel32.dll").NewProc("GetSystemPowerStatus")

// systemPowerStatus mirrors SYSTEM_POWER_STATUS.
type systemPowerStatus struct {
	ACLineStatus        uint8
	BatteryFlag         uint8
	BatteryLifePercent  uint8
	SystemStatusFlag    uint8
	BatteryLifeTime     uint32
	BatteryFullLifeTime uint32
}

const (
	batteryFlagCharging   = 8
	batteryFlagNoBattery  = 128
	batteryFlagUnknown    = 255
	batteryPercentUnknown = 255
)

type windowsPowerSource struct{}

func newHostPowerSource() PowerSource {
	return windowsPowerSource{}
}

func (windowsPowerSource) Sample(context.Context) (PowerSample, error) {
	if err := procGetSystemPowerStatus.Find(); err != nil {
		return PowerSample{}, ErrPowerUnavailable
	}
	var status systemPowerStatus
	if ok, _, err := procGetSystemPowerStatus.Call(uintptr(unsafe.Pointer(&status))); ok == 0 {
		return PowerSample{}, errors.Wrap(err, "GetSystemPowerStatus")
	}

	sample := PowerSample{Source: PowerSourceUnknown}
	switch status.ACLineStatus {
	case 0:
		sample.Source = PowerSourceBattery
	case 1:
		sample.Source = PowerSourceAC
	}
	hasBattery := status.BatteryFlag != batteryFlagNoBattery && status.BatteryFlag != batteryFlagUnknown
	if hasBattery && status.BatteryLifePercent != batteryPercentUnknown {
		sample.BatteryLevel = float64Ptr(float64(status.BatteryLifePercent))
		charging := status.BatteryFlag&batteryFlagCharging != 0
		sample.Charging = &charging
	}
	return sample, nil
}
