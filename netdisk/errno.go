package netdisk

import (
	"fmt"

	"panshare/internal"
)

// errnoNotFound is returned by the Baidu file manager for a missing path
const errnoNotFound = 2

var baiduErrnoMessages = map[int]string{
	-1:    "invalid request parameters",
	-3:    "access denied",
	-6:    "session invalid, login again",
	-7:    "share link invalid or file name illegal",
	-8:    "file already exists in destination",
	-9:    "share passcode incorrect or share removed",
	-10:   "account storage is full",
	-12:   "share passcode required",
	-19:   "captcha required",
	-21:   "share cancelled",
	-30:   "file already exists",
	-32:   "account storage is full",
	-33:   "transfer file count exceeds account limit",
	-62:   "too many passcode attempts, captcha required",
	-70:   "share contains illegal content",
	2:     "parameter error or file not found",
	4:     "operation forbidden",
	12:    "batch transfer failed",
	105:   "share link invalid",
	110:   "session invalid, login again",
	111:   "another asynchronous task is running",
	115:   "share forbidden",
	116:   "share does not exist",
	117:   "share expired",
	120:   "share not found",
	145:   "share link invalid",
	9019:  "access token invalid",
	31034: "anti-crawler verification failed",
	31045: "verification code required",
	31061: "file already exists",
	31066: "file does not exist",
}

// baiduError maps a non-zero Baidu errno to a RemoteProtocolError
func baiduError(errno int, errmsg, step string) *internal.PanError {
	message, ok := baiduErrnoMessages[errno]
	if !ok {
		message = errmsg
		if message == "" {
			message = fmt.Sprintf("unknown API error (errno: %d)", errno)
		}
	}
	return internal.NewRemoteProtocolError(errno, message).
		WithProvider(internal.ProviderBaidu.Name()).
		WithStep(step)
}

// quarkError maps a non-zero Quark code to a RemoteProtocolError
func quarkError(code int, message, step string) *internal.PanError {
	if message == "" {
		message = fmt.Sprintf("unknown API error (code: %d)", code)
	}
	return internal.NewRemoteProtocolError(code, message).
		WithProvider(internal.ProviderQuark.Name()).
		WithStep(step)
}
