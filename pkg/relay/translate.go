package relay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// mapping pairs known backend failure phrases with a user-facing template.
// The table is ordered; the first matching phrase wins.
type mapping struct {
	phrases  []string
	template string
}

var mappings = []mapping{
	{
		phrases:  []string{"gateway token missing", "gateway token mismatch"},
		template: "Invalid or missing token. Visit https://%s?token={REPLACE_WITH_YOUR_TOKEN}",
	},
	{
		phrases:  []string{"pairing required"},
		template: "Pairing required. Visit https://%s/_admin/",
	},
}

// Translate maps raw backend error text to user-facing text parameterized
// by the requesting host. It is total: unrecognized input comes back
// unchanged. Matching is a case-sensitive substring check.
func Translate(raw, host string) string {
	for _, m := range mappings {
		for _, phrase := range m.phrases {
			if strings.Contains(raw, phrase) {
				return fmt.Sprintf(m.template, host)
			}
		}
	}
	return raw
}

// errorEnvelope is the one backend message shape this relay understands:
// { "error": { "message": <string>, ... } }. Only error.message is ever
// rewritten; every other field passes through untouched.

// rewriteErrorFrame translates error.message inside a text frame. It
// returns the original bytes untouched when the frame is not JSON, carries
// no error.message string, or when translation is a no-op — re-serializing
// only when something actually changed keeps unaffected frames
// byte-for-byte identical.
func rewriteErrorFrame(frame []byte, host string) []byte {
	var envelope map[string]any
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return frame
	}

	errObj, ok := envelope["error"].(map[string]any)
	if !ok {
		return frame
	}
	message, ok := errObj["message"].(string)
	if !ok {
		return frame
	}

	translated := Translate(message, host)
	if translated == message {
		return frame
	}

	errObj["message"] = translated
	out, err := json.Marshal(envelope)
	if err != nil {
		return frame
	}
	return out
}

// maxCloseReason is the WebSocket limit on a close frame's reason: the
// control payload is capped at 125 bytes, 2 of which hold the status code.
const maxCloseReason = 123

// truncateCloseReason caps a close reason at the protocol limit, marking
// the cut with an ellipsis.
func truncateCloseReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	return reason[:120] + "..."
}
