package hardware

import (
	"errors"
	"fmt"
	"strings"

	"network-service/internal/fsm"
	"network-service/internal/logger"

	"golang.org/x/sys/unix"
)

type settingWriter interface {
	SetSetting(key, value string) error
}

// System resets the board and reports its kernel hostname.
type System struct {
	settings settingWriter
	logger   *logger.Logger
	reboot   func() error
}

func NewSystem(settings settingWriter, l *logger.Logger) *System {
	if l == nil {
		l = logger.Discard()
	}
	return &System{
		settings: settings,
		logger:   l,
		reboot:   restart,
	}
}

func restart() error {
	unix.Sync()
	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}

// Reboot records the requested boot mode and restarts the board.
func (s *System) Reboot(kind fsm.RebootKind) error {
	s.logger.Warnf("Rebooting (%s)", kind)
	if s.settings != nil {
		if err := s.settings.SetSetting(SettingBootMode, kind.String()); err != nil {
			return fmt.Errorf("failed to store boot mode: %w", err)
		}
	}
	if err := s.reboot(); err != nil {
		return fmt.Errorf("reboot failed: %w", err)
	}
	return nil
}

// RebootToURL stores the firmware URL for the updater and reboots into
// recovery.
func (s *System) RebootToURL(url string) error {
	if url == "" {
		return errors.New("empty firmware url")
	}
	if s.settings == nil {
		return errors.New("no settings store to hand over the firmware url")
	}
	if err := s.settings.SetSetting(SettingOtaURL, url); err != nil {
		return fmt.Errorf("failed to store firmware url: %w", err)
	}
	return s.Reboot(fsm.RebootRecovery)
}

// Hostname returns the kernel nodename.
func Hostname() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("uname failed: %w", err)
	}
	return strings.TrimRight(unix.ByteSliceToString(uts.Nodename[:]), "\n"), nil
}
