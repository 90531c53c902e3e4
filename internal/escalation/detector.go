package escalation

import "strings"

// Severity buckets detected emergencies by how fast a human needs to
// take over
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Urgency maps a severity bucket onto the 0-10 scale the router
// threshold operates on
func (s Severity) Urgency() int {
	switch s {
	case SeverityCritical:
		return 9
	case SeverityHigh:
		return 8
	case SeverityMedium:
		return 7
	case SeverityLow:
		return 3
	default:
		return 0
	}
}

// SeverityForUrgency buckets a raw 0-10 score back into a severity
// word, for escalations scored by the AI backend without a keyword hit
func SeverityForUrgency(urgency int) Severity {
	switch {
	case urgency >= 9:
		return SeverityCritical
	case urgency >= 8:
		return SeverityHigh
	case urgency >= 7:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Detection is the outcome of scanning one user message
type Detection struct {
	IsEmergency    bool
	EmergencyType  string
	MatchedKeyword string
	Severity       Severity
	Urgency        int
}

type keywordSet struct {
	emergencyType string
	severity      Severity
	keywords      []string
}

// Checked in order; the first matching keyword decides the type
var emergencyKeywords = []keywordSet{
	{
		emergencyType: "lost_card",
		severity:      SeverityHigh,
		keywords: []string{
			"lost my card", "lost credit card", "lost debit card", "card is lost",
			"cannot find my card", "misplaced my card", "card missing", "lost my atm card",
		},
	},
	{
		emergencyType: "stolen_card",
		severity:      SeverityCritical,
		keywords: []string{
			"card stolen", "someone stole my card", "card theft", "stolen credit card",
			"stolen debit card", "my card was stolen", "card got stolen",
		},
	},
	{
		emergencyType: "fraud",
		severity:      SeverityCritical,
		keywords: []string{
			"fraud", "fraudulent transaction", "unauthorized transaction",
			"someone used my card", "fake transaction", "scam", "cheated",
			"unauthorized payment", "money deducted without permission",
		},
	},
	{
		emergencyType: "account_locked",
		severity:      SeverityMedium,
		keywords: []string{
			"account locked", "cannot access account", "blocked account",
			"account suspended", "login blocked", "account frozen",
		},
	},
	{
		emergencyType: "suspicious_activity",
		severity:      SeverityHigh,
		keywords: []string{
			"suspicious transaction", "weird transaction", "unknown transaction",
			"strange payment", "unfamiliar charge", "unrecognized transaction",
		},
	},
	{
		emergencyType: "phishing_attack",
		severity:      SeverityCritical,
		keywords: []string{
			"phishing", "fake email", "suspicious email", "fake sms",
			"someone asking for otp", "suspicious call", "fake bank call",
		},
	},
}

// A message with no direct keyword hit still escalates when it pairs a
// distress word with financial vocabulary
var (
	emergencyIndicators = []string{"emergency", "urgent", "help", "immediately", "asap", "quick"}
	financialContext    = []string{"card", "credit", "debit", "payment", "transaction", "account", "money", "bank"}
)

// EmergencyTypeGeneral is the type assigned to indicator-based matches
const EmergencyTypeGeneral = "general_financial_emergency"

// Detect scans a user message for emergency situations
func Detect(text string) Detection {
	lowered := strings.ToLower(strings.TrimSpace(text))

	for _, set := range emergencyKeywords {
		for _, keyword := range set.keywords {
			if strings.Contains(lowered, keyword) {
				return Detection{
					IsEmergency:    true,
					EmergencyType:  set.emergencyType,
					MatchedKeyword: keyword,
					Severity:       set.severity,
					Urgency:        set.severity.Urgency(),
				}
			}
		}
	}

	if containsAny(lowered, emergencyIndicators) && containsAny(lowered, financialContext) {
		return Detection{
			IsEmergency:    true,
			EmergencyType:  EmergencyTypeGeneral,
			MatchedKeyword: "general emergency with financial context",
			Severity:       SeverityMedium,
			Urgency:        SeverityMedium.Urgency(),
		}
	}

	return Detection{}
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
