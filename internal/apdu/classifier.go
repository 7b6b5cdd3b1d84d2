package apdu

import (
	"bytes"
	"encoding/hex"
)

// successCodes is the fixed table of response codes a secure element returns
// for a successfully executed command. Codes are compared byte for byte
// against the decoded response.
var successCodes = [][]byte{
	{0x90, 0x00}, // normal processing
	{0x61},       // more data available
	{0x62, 0x83}, // selected file deactivated
}

// IsSuccessResponse reports whether a raw response code classifies as success.
// A code matches if it decodes to an entry of the success table, or if the
// command's continue-on-failure flag permits the package to proceed regardless
// of the code. Malformed hex never matches and classifies as failure.
func IsSuccessResponse(responseCode string, continueOnFailure bool) bool {
	code, err := hex.DecodeString(responseCode)
	if err == nil {
		for _, success := range successCodes {
			if bytes.Equal(success, code) {
				return true
			}
		}
	}
	return continueOnFailure
}
