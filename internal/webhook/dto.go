package webhook

// Payload is the tracker-agnostic webhook body shape spec.md §4.1 step 3
// validates: required fields action, data.identifier, data.title.
type Payload struct {
	Action string      `json:"action"`
	Data   PayloadData `json:"data"`
	Actor  string      `json:"actor,omitempty"`
}

// PayloadData carries the issue descriptor fields the ingress needs to
// route and deduplicate.
type PayloadData struct {
	Identifier  string   `json:"identifier"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Project     string   `json:"project"`
	Team        string   `json:"team"`
	DelegateTo  string   `json:"delegateTo,omitempty"`
}

func (p Payload) validate() (string, bool) {
	if p.Action == "" {
		return "missing field: action", false
	}
	if p.Data.Identifier == "" {
		return "missing field: data.identifier", false
	}
	if p.Data.Title == "" {
		return "missing field: data.title", false
	}
	return "", true
}

// isRelevant applies the relevance filter of spec.md §4.1 step 4: only
// create events, delegate-changes to agentName, and label-changes are
// admitted; self-induced state updates (e.g. the bot's own "executed"
// label) are dropped.
func (p Payload) isRelevant(agentName string) bool {
	switch p.Action {
	case "create":
		return true
	case "delegate":
		return p.Data.DelegateTo == agentName
	case "label":
		return p.Actor != agentName
	default:
		return false
	}
}
