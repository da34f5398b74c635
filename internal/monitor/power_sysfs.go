package monitor

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const sysfsPowerSupplyRoot = "/sys/class/power_supply"

// sysfsPowerSource reads the Linux power_supply class. Several batteries
// are averaged; the host charges when any battery does.
type sysfsPowerSource struct {
	root string
}

func (s sysfsPowerSource) Sample(context.Context) (PowerSample, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return PowerSample{}, ErrPowerUnavailable
		}
		return PowerSample{}, err
	}
	var (
		batteries  int
		total      float64
		charging   bool
		mains      bool
		mainsFound bool
	)
	for _, entry := range entries {
		dir := filepath.Join(s.root, entry.Name())
		switch readSysfs(dir, "type") {
		case "Battery":
			if readSysfs(dir, "scope") == "Device" {
				// Peripheral batteries (mice, headsets) say nothing about the host.
				continue
			}
			capacity, err := strconv.ParseFloat(readSysfs(dir, "capacity"), 64)
			if err != nil {
				continue
			}
			batteries++
			total += capacity
			if readSysfs(dir, "status") == "Charging" {
				charging = true
			}
		case "Mains", "USB", "USB_C", "USB_PD":
			mainsFound = true
			if readSysfs(dir, "online") == "1" {
				mains = true
			}
		}
	}
	if batteries == 0 && !mainsFound {
		return PowerSample{}, ErrPowerUnavailable
	}

	sample := PowerSample{Source: PowerSourceUnknown}
	switch {
	case mains:
		sample.Source = PowerSourceAC
	case batteries > 0:
		sample.Source = PowerSourceBattery
	}
	if batteries > 0 {
		sample.BatteryLevel = float64Ptr(total / float64(batteries))
		sample.Charging = &charging
	}
	return sample, nil
}

func readSysfs(dir, name string) string {
	payload, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(payload))
}
