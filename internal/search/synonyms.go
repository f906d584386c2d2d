package search

// Support vocabulary tables for query enhancement.
//
// Misspellings are corrected before synonyms are looked up, so "andriod"
// first becomes "android" and then picks up the android expansions.

// Correction replaces Wrong with Right wherever it appears in a query.
type Correction struct {
	Wrong string
	Right string
}

// DefaultMisspellings are applied in order as plain substring replacements.
var DefaultMisspellings = []Correction{
	{"andriod", "android"},
	{"winodws", "windows"},
	{"configuratin", "configuration"},
	{"instalation", "installation"},
	{"managment", "management"},
}

// DefaultSynonyms maps a query token to the phrases appended after it.
var DefaultSynonyms = map[string][]string{
	"mdm":           {"mobile device management", "device management"},
	"android":       {"android device", "mobile device"},
	"windows":       {"windows device", "pc", "desktop"},
	"suremdm":       {"42gears mdm", "device management platform"},
	"kiosk":         {"kiosk mode", "single app mode", "locked mode"},
	"app":           {"application", "software", "program"},
	"install":       {"installation", "deployment", "setup"},
	"configuration": {"config", "settings", "setup"},
	"policy":        {"policies", "rules", "restrictions"},
	"security":      {"protection", "safety", "secure"},
}

// StopWords are dropped by ExtractKeywords.
var StopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "how": {}, "what": {}, "where": {}, "when": {}, "why": {},
}
