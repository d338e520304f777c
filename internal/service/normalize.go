package service

import "strings"

// Unspecified is the sentinel used when free-text gender or mood does not map
// onto the closed vocabulary. Raw user text for these fields never reaches
// the moderation prompt.
const Unspecified = "unspecified"

var genderVocab = map[string]string{
	"female": "female",
	"woman":  "female",
	"girl":   "female",
	"f":      "female",
	"male":   "male",
	"man":    "male",
	"boy":    "male",
	"m":      "male",
}

var moodVocab = map[string]string{
	"bad":       "bad",
	"sad":       "bad",
	"low":       "bad",
	"down":      "bad",
	"normal":    "neutral",
	"okay":      "neutral",
	"ok":        "neutral",
	"average":   "neutral",
	"fine":      "neutral",
	"great":     "great",
	"good":      "great",
	"excellent": "great",
	"perfect":   "great",
	"happy":     "great",
}

// NormalizeGender maps free-text gender to {female, male, unspecified}.
func NormalizeGender(gender *string) string {
	if gender == nil {
		return Unspecified
	}
	if v, ok := genderVocab[strings.ToLower(strings.TrimSpace(*gender))]; ok {
		return v
	}
	return Unspecified
}

// NormalizeMood maps free-text mood to {bad, neutral, great, unspecified}.
func NormalizeMood(mood *string) string {
	if mood == nil {
		return Unspecified
	}
	if v, ok := moodVocab[strings.ToLower(strings.TrimSpace(*mood))]; ok {
		return v
	}
	return Unspecified
}
