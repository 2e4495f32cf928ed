package odds

import "strings"

// Normalized outcome ids for head-to-head markets.
const (
	OutcomeHome = "home"
	OutcomeDraw = "draw"
	OutcomeAway = "away"
)

// NormalizeSelection maps a bookmaker's selection label onto home, draw or
// away. Bookmakers spell competitors differently ("N. Djokovic" vs "Novak
// Djokovic"), so after an exact match it falls back to containment and then
// to a last-word match. ok is false when the label cannot be placed.
func NormalizeSelection(name, home, away string) (outcome string, ok bool) {
	sel := strings.ToLower(strings.TrimSpace(name))
	h := strings.ToLower(strings.TrimSpace(home))
	a := strings.ToLower(strings.TrimSpace(away))

	if sel == "" {
		return "", false
	}

	switch sel {
	case h:
		return OutcomeHome, true
	case a:
		return OutcomeAway, true
	case "draw", "tie", "x":
		return OutcomeDraw, true
	}

	homeMatch := fuzzyMatch(sel, h)
	awayMatch := fuzzyMatch(sel, a)
	switch {
	case homeMatch && !awayMatch:
		return OutcomeHome, true
	case awayMatch && !homeMatch:
		return OutcomeAway, true
	default:
		return "", false
	}
}

func fuzzyMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	wa, wb := strings.Fields(a), strings.Fields(b)
	return len(wa) > 0 && len(wb) > 0 && wa[len(wa)-1] == wb[len(wb)-1]
}
