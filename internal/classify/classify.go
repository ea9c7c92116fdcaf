// Package classify turns free-text permission descriptions and file names
// into categorical labels. Every function is pure and total: input that
// matches nothing falls through to a default label.
package classify

import (
	"regexp"
	"strings"

	"github.com/siteinventory/spdash/internal/model"
)

var (
	anonymousWords = wordPattern("anyone", "anyonewithlink", "anyone with the link", "anonymous", "public")
	everyoneWord   = wordPattern("everyone")
	externalWords  = wordPattern("external", "guest", "anon", "anyone")

	criticalRisk = wordPattern("everyone", "everyone except external users")
)

// externalPhrases match as plain substrings so that joined forms such as
// "ExternalUsers" or "GuestAccess" still count.
var externalPhrases = []string{
	"guest", "external", "new external", "new & existing", "new and existing", "newexisting",
}

var (
	mediumRisk = []string{"visitor", "excel services viewers", "portfolio viewers"}
	lowRisk    = []string{"owner", "member", "administrator", "project manager", "team lead", "resource manager"}
)

// wordPattern builds a case-insensitive whole-word alternation.
func wordPattern(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

func containsAny(lower string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// Sharing classifies permission text into a sharing level. The checks run
// from most to least permissive and the first match wins, so text naming
// both "anyone" and "everyone" is anonymous.
func Sharing(text string) model.SharingLevel {
	if text == "" {
		return model.SharingOnlyOrg
	}
	switch {
	case anonymousWords.MatchString(text):
		return model.SharingAnonymous
	case containsAny(strings.ToLower(text), externalPhrases):
		return model.SharingExternal
	case everyoneWord.MatchString(text):
		return model.SharingEveryone
	default:
		return model.SharingOnlyOrg
	}
}

// Risk derives the business-risk profile of permission text.
func Risk(text string) model.RiskProfile {
	lower := strings.ToLower(text)
	switch {
	case criticalRisk.MatchString(text):
		return model.RiskCritical
	case containsAny(lower, mediumRisk):
		return model.RiskMedium
	case containsAny(lower, lowRisk):
		return model.RiskLow
	default:
		return model.RiskUnknown
	}
}

// VisibleEveryone reports a whole-word "everyone" mention.
func VisibleEveryone(text string) bool {
	return everyoneWord.MatchString(text)
}

// VisibleExternal reports a whole-word mention of external, guest, anon or
// anyone.
func VisibleExternal(text string) bool {
	return externalWords.MatchString(text)
}
