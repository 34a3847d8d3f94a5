package heartbeat

import (
	"regexp"
	"strings"
)

// categoryRule is one entry in the ordered auto-detection table. The
// first rule whose predicate matches wins, mirroring the ingress
// router's first-match-wins rule walk.
type categoryRule struct {
	category string
	match    func(cpuModel, arch string) bool
}

var highCoreRyzen9 = regexp.MustCompile(`(?i)ryzen\s*9`)
var mobileIntel = regexp.MustCompile(`(?i)\bi[3579]-\d{4,5}[a-z]*\b`)
var lowPowerN = regexp.MustCompile(`(?i)\bn\d{3,4}\b`)
var xeon = regexp.MustCompile(`(?i)xeon`)

var categoryRules = []categoryRule{
	{
		category: "sbc",
		match: func(_, arch string) bool {
			return strings.HasPrefix(strings.ToLower(arch), "arm") || strings.ToLower(arch) == "aarch64"
		},
	},
	{
		category: "rack_server",
		match: func(cpuModel, _ string) bool {
			return xeon.MatchString(cpuModel)
		},
	},
	{
		category: "workstation",
		match: func(cpuModel, _ string) bool {
			return highCoreRyzen9.MatchString(cpuModel)
		},
	},
	{
		category: "office_laptop",
		match: func(cpuModel, _ string) bool {
			return mobileIntel.MatchString(cpuModel)
		},
	},
	{
		category: "mini_pc",
		match: func(cpuModel, _ string) bool {
			return lowPowerN.MatchString(cpuModel)
		},
	},
}

// detectCategory runs cpuModel/arch through the ordered rule table and
// returns the first matching category, or "" if nothing matches — in
// which case the caller must leave both category and source unset.
func detectCategory(cpuModel, arch string) string {
	for _, rule := range categoryRules {
		if rule.match(cpuModel, arch) {
			return rule.category
		}
	}
	return ""
}
