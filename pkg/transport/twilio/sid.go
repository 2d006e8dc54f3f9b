package twilio

import "strings"

// FileSafe returns sid with every character outside [A-Za-z0-9_-] replaced
// by '_', so it can name a file without leaving its directory. Twilio SIDs
// pass through unchanged; an empty sid becomes "unknown".
func FileSafe(sid string) string {
	sid = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, sid)
	if sid == "" {
		return "unknown"
	}
	return sid
}
