package monitor

func newHostPowerSource() PowerSource {
	return sysfsPowerSource{root: sysfsPowerSupplyRoot}
}
