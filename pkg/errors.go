package pkg

import "errors"

// Error kinds returned by every locationd operation. Call sites wrap them with
// fmt.Errorf("...: %w", err); match with errors.Is.
var (
	ErrNotAllowed          = errors.New("not allowed")
	ErrNotAvailable        = errors.New("not available")
	ErrNetworkFailed       = errors.New("network failed")
	ErrNetworkNotConnected = errors.New("network not connected")
	ErrConfiguration       = errors.New("configuration error")
	ErrParameter           = errors.New("invalid parameter")
	ErrNotFound            = errors.New("not found")
	ErrNotSupported        = errors.New("not supported")
	ErrSettingOff          = errors.New("setting off")
	ErrSecurityDenied      = errors.New("security denied")
	ErrUnknown             = errors.New("unknown error")
)

var errorKinds = []struct {
	err  error
	name string
}{
	{ErrNotAllowed, "not_allowed"},
	{ErrNotAvailable, "not_available"},
	{ErrNetworkFailed, "network_failed"},
	{ErrNetworkNotConnected, "network_not_connected"},
	{ErrConfiguration, "configuration"},
	{ErrParameter, "parameter"},
	{ErrNotFound, "not_found"},
	{ErrNotSupported, "not_supported"},
	{ErrSettingOff, "setting_off"},
	{ErrSecurityDenied, "security_denied"},
	{ErrUnknown, "unknown"},
}

// KindOf names the error kind of err. nil yields "none", anything outside the
// known kinds yields "unknown".
func KindOf(err error) string {
	if err == nil {
		return "none"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}

// IsKnown reports whether err wraps one of the error kinds above
func IsKnown(err error) bool {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return true
		}
	}
	return false
}
