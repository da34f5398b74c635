//go:build !linux && !windows

package monitor

import "context"

type unavailablePowerSource struct{}

func newHostPowerSource() PowerSource {
	return unavailablePowerSource{}
}

func (unavailablePowerSource) Sample(context.Context) (PowerSample, error) {
	return PowerSample{}, ErrPowerUnavailable
}
