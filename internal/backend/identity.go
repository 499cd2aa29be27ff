package backend

import (
	"fmt"
	"net"
)

// MACSuffix is the upper-case hex of the last two bytes of mac, used to
// make the device id, AP name and test rider unique per board.
func MACSuffix(mac net.HardwareAddr) string {
	if len(mac) < 2 {
		return "0000"
	}
	return fmt.Sprintf("%02X%02X", mac[len(mac)-2], mac[len(mac)-1])
}

// DeviceID joins the configured name and the MAC suffix. An unnamed device
// has an empty id.
func DeviceID(name, suffix string) string {
	if name == "" {
		return ""
	}
	return name + "_" + suffix
}
