package store

// Persisted setting keys. The namespace is flat and shared by the config UI,
// the loader, the reconciler and the firmware orchestrator.
const (
	KeyWiFiSSID        = "wifi_ssid"
	KeyWiFiPassword    = "wifi_password"
	KeyDeviceName      = "deviceName"
	KeyDefaultRiderID  = "default_id_tag"
	KeyWheelSize       = "wheel_size"
	KeyServerURL       = "serverUrl"
	KeyAPIKey          = "apiKey"
	KeySendInterval    = "sendInterval"
	KeyDeepSleep       = "deep_sleep"
	KeyLEDEnabled      = "ledEnabled"
	KeyDebugEnabled    = "debugEnabled"
	KeyTestMode        = "testModeEnabled"
	KeyTestDistance    = "testDistance"
	KeyTestInterval    = "testInterval"
	KeyConfigFetchInt  = "cfg_fetch_int"
	KeyAPPassword      = "ap_passwd"
	KeyFirmwareVersion = "fw_ver"
	KeyConfigExit      = "configExit"
	KeyLastHeartbeat   = "last_hb_time"
	KeyLastFirmwareChk = "last_fw_chk"
	KeyLegacyRiderID   = "idTag"
	KeyLegacyAuthToken = "authToken"
)

// Change sources recorded in the config change journal.
const (
	SourceUI       = "ui"
	SourceBackend  = "backend"
	SourceLoader   = "loader"
	SourceFirmware = "firmware"
	SourceCLI      = "cli"
)

// ConfigKeys are the operator-editable settings, in display order.
var ConfigKeys = []string{
	KeyWiFiSSID,
	KeyWiFiPassword,
	KeyDeviceName,
	KeyDefaultRiderID,
	KeyWheelSize,
	KeyServerURL,
	KeyAPIKey,
	KeySendInterval,
	KeyDeepSleep,
	KeyLEDEnabled,
	KeyDebugEnabled,
	KeyTestMode,
	KeyTestDistance,
	KeyTestInterval,
	KeyConfigFetchInt,
	KeyAPPassword,
}

// IsSecret reports whether key holds a credential.
func IsSecret(key string) bool { return secretKeys[key] }
