package ai

import "strings"

const preserveClause = "Don't: change room structure, add new furniture, alter walls or windows, distort perspective, modify architectural elements"

type issueRule struct {
	keywords    []string
	instruction string
}

// Detected issues are written in French; rules match on lowercase keywords.
var issueRules = []issueRule{
	{[]string{"vaisselle", "égouttoir", "ustensiles", "casseroles"}, "remove dishes, drying rack and utensils from the counters"},
	{[]string{"éclairage", "sombre", "insuffisant"}, "enhance lighting with bright natural daylight"},
	{[]string{"plafond", "incliné", "confinement", "restreint", "oppressant"}, "make the sloped ceiling feel lighter and more spacious with brighter tones"},
	{[]string{"désordre", "encombré", "clutter"}, "remove clutter and personal items"},
	{[]string{"décoration", "personnalisée", "dominante"}, "neutralize the personal decoration with neutral tones"},
	{[]string{"pipes", "tuyau", "inachevé", "finition"}, "hide visible pipes and unfinished surfaces"},
}

// InstructionForIssues builds an editing instruction that fixes every issue
// of a prior analysis while preserving the room.
func InstructionForIssues(issues []string) string {
	var fixes []string
	seen := make(map[string]bool)
	for _, issue := range issues {
		fix := fixFor(issue)
		if fix == "" || seen[fix] {
			continue
		}
		seen[fix] = true
		fixes = append(fixes, fix)
	}
	if len(fixes) == 0 {
		return ""
	}
	return "Do: " + strings.Join(fixes, "; ") + "\n" + preserveClause
}

func fixFor(issue string) string {
	issue = strings.TrimSpace(issue)
	if issue == "" {
		return ""
	}
	lower := strings.ToLower(issue)
	for _, rule := range issueRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				return rule.instruction
			}
		}
	}
	return "fix: " + issue
}
