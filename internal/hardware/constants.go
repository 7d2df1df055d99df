package hardware

import "time"

const (
	// Status LED default wiring on the player board.
	DefaultLedChip = 2
	DefaultLedLine = 12

	GpioConsumer = "network-service"

	BlinkSlowPeriod = time.Second
	BlinkFastPeriod = 250 * time.Millisecond
)

// Settings written before a reboot so the bootloader and the updater know
// what to do next.
const (
	SettingBootMode = "system.boot-mode"
	SettingOtaURL   = "ota.url"
)
