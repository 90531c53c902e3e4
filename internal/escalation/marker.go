package escalation

import "strings"

// Assistant replies that hand off to a human embed a machine-readable
// marker the chat frontend reacts to. Format:
//
//	[AGENT_CALL:<agentID>:<roomName>]
//
// The marker may sit anywhere in the reply text.
const (
	markerPrefix = "[AGENT_CALL:"
	markerSuffix = "]"

	// MarkerUnassigned fills the agent field while the case is still
	// waiting for a claim
	MarkerUnassigned = "unassigned"
)

// Marker is the parsed hand-off marker
type Marker struct {
	AgentID  string
	RoomName string
}

// BuildMarker renders the hand-off marker for an assistant reply
func BuildMarker(agentID, roomName string) string {
	if agentID == "" {
		agentID = MarkerUnassigned
	}
	return markerPrefix + agentID + ":" + roomName + markerSuffix
}

// ParseMarker scans text for a hand-off marker. It tolerates any
// position and surrounding prose; it returns false when no
// well-formed marker is present.
func ParseMarker(text string) (Marker, bool) {
	start := strings.Index(text, markerPrefix)
	if start < 0 {
		return Marker{}, false
	}
	rest := text[start+len(markerPrefix):]
	end := strings.Index(rest, markerSuffix)
	if end < 0 {
		return Marker{}, false
	}

	fields := strings.SplitN(rest[:end], ":", 2)
	if len(fields) != 2 || fields[0] == "" || fields[1] == "" {
		return Marker{}, false
	}
	return Marker{AgentID: fields[0], RoomName: fields[1]}, true
}

// StripMarker removes the hand-off marker from display text
func StripMarker(text string) string {
	start := strings.Index(text, markerPrefix)
	if start < 0 {
		return text
	}
	rest := text[start+len(markerPrefix):]
	end := strings.Index(rest, markerSuffix)
	if end < 0 {
		return text
	}
	return strings.TrimSpace(text[:start] + rest[end+len(markerSuffix):])
}
