package wsproto

// Close codes from the RFC 6455 section 7.4.1 registry.
const (
	CloseNormalClosure      = 1000
	CloseGoingAway          = 1001
	CloseProtocolError      = 1002
	CloseUnsupportedData    = 1003
	CloseNoStatusRcvd       = 1005
	CloseAbnormalClosure    = 1006
	CloseInvalidPayloadData = 1007
	ClosePolicyViolation    = 1008
	CloseMessageTooBig      = 1009
	CloseMandatoryExtension = 1010
	CloseInternalError      = 1011
	CloseServiceRestart     = 1012
	CloseTryAgainLater      = 1013
	CloseBadGateway         = 1014
	CloseTLSHandshakeFailed = 1015
)

var closeCodeNames = map[int]string{
	CloseNormalClosure:      "NORMAL_CLOSURE",
	CloseGoingAway:          "GOING_AWAY",
	CloseProtocolError:      "PROTOCOL_ERROR",
	CloseUnsupportedData:    "UNSUPPORTED_DATA",
	CloseNoStatusRcvd:       "NO_STATUS_RCVD",
	CloseAbnormalClosure:    "ABNORMAL_CLOSURE",
	CloseInvalidPayloadData: "INVALID_FRAME_PAYLOAD_DATA",
	ClosePolicyViolation:    "POLICY_VIOLATION",
	CloseMessageTooBig:      "MESSAGE_TOO_BIG",
	CloseMandatoryExtension: "MANDATORY_EXT",
	CloseInternalError:      "INTERNAL_ERROR",
	CloseServiceRestart:     "SERVICE_RESTART",
	CloseTryAgainLater:      "TRY_AGAIN_LATER",
	CloseBadGateway:         "BAD_GATEWAY",
	CloseTLSHandshakeFailed: "TLS_HANDSHAKE_FAILED",
}

// CloseCodeName returns the registry name for a close code. The second return
// value reports whether the code is registered.
func CloseCodeName(code int) (string, bool) {
	name, ok := closeCodeNames[code]
	return name, ok
}
