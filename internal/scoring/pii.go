package scoring

import (
	"strings"

	"github.com/leapstack-labs/leaplineage/pkg/core"
)

type piiPattern struct {
	pattern string
	tier    core.PIITier
}

// lowOverrides win over broader HIGH patterns ("address" in ip_address).
var lowOverrides = []string{"ip_address", "ipaddress", "ip_addr", "mac_address"}

// Patterns are checked most sensitive first. Patterns of four characters or
// fewer must equal a whole underscore-separated token; longer ones match as
// substrings.
var piiPatterns = []piiPattern{
	{"ssn", core.PIICritical},
	{"social_security", core.PIICritical},
	{"credit_card", core.PIICritical},
	{"creditcard", core.PIICritical},
	{"card_number", core.PIICritical},
	{"ccn", core.PIICritical},
	{"bank_account", core.PIICritical},
	{"account_number", core.PIICritical},
	{"iban", core.PIICritical},
	{"passport", core.PIICritical},
	{"license", core.PIICritical},
	{"licence", core.PIICritical},
	{"password", core.PIICritical},
	{"passwd", core.PIICritical},
	{"pwd", core.PIICritical},
	{"secret", core.PIICritical},
	{"token", core.PIICritical},
	{"api_key", core.PIICritical},

	{"email", core.PIIHigh},
	{"e_mail", core.PIIHigh},
	{"phone", core.PIIHigh},
	{"mobile", core.PIIHigh},
	{"telephone", core.PIIHigh},
	{"address", core.PIIHigh},
	{"street", core.PIIHigh},
	{"zip", core.PIIHigh},
	{"zipcode", core.PIIHigh},
	{"postal", core.PIIHigh},
	{"postcode", core.PIIHigh},

	{"first_name", core.PIIMedium},
	{"firstname", core.PIIMedium},
	{"last_name", core.PIIMedium},
	{"lastname", core.PIIMedium},
	{"full_name", core.PIIMedium},
	{"fullname", core.PIIMedium},
	{"middle_name", core.PIIMedium},
	{"maiden_name", core.PIIMedium},
	{"customer_name", core.PIIMedium},
	{"birth", core.PIIMedium},
	{"dob", core.PIIMedium},

	{"user_id", core.PIILow},
	{"userid", core.PIILow},
	{"customer_id", core.PIILow},
	{"person_id", core.PIILow},
	{"member_id", core.PIILow},
	{"device_id", core.PIILow},
}

// tagTiers maps catalog policy tags onto tiers.
var tagTiers = map[string]core.PIITier{
	"CRITICAL_PII":  core.PIICritical,
	"SSN":           core.PIICritical,
	"CREDENTIALS":   core.PIICritical,
	"FINANCIAL":     core.PIICritical,
	"PAYMENT_INFO":  core.PIICritical,
	"EMAIL":         core.PIIHigh,
	"PHONE":         core.PIIHigh,
	"PII":           core.PIIMedium,
	"SENSITIVE":     core.PIIMedium,
	"PERSONAL_INFO": core.PIIMedium,
	"DATA_PRIVACY":  core.PIIMedium,
}

// ClassifyPII returns the PII tier of a column from its name and any
// attached tag text. The most sensitive signal wins.
func ClassifyPII(name string, tags []string) core.PIITier {
	tier := classifyName(name)
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if t, ok := tagTiers[strings.ToUpper(tag)]; ok {
			tier = core.MaxTier(tier, t)
		}
		tier = core.MaxTier(tier, classifyName(tag))
	}
	return tier
}

func classifyName(name string) core.PIITier {
	norm := normalizeName(name)
	if norm == "" {
		return core.PIINone
	}
	for _, o := range lowOverrides {
		if strings.HasPrefix(norm, o) || strings.Contains(norm, "_"+o) {
			return core.PIILow
		}
	}
	if norm == "name" {
		return core.PIIMedium
	}
	tokens := strings.Split(norm, "_")
	for _, p := range piiPatterns {
		if matchesPattern(norm, tokens, p.pattern) {
			return p.tier
		}
	}
	return core.PIINone
}

func matchesPattern(norm string, tokens []string, pattern string) bool {
	if len(pattern) > 4 {
		return strings.Contains(norm, pattern)
	}
	for _, tok := range tokens {
		if tok == pattern {
			return true
		}
	}
	return false
}

// normalizeName lower-cases and turns any separator into an underscore.
func normalizeName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r == '-' || r == ' ' || r == '.':
			sb.WriteByte('_')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
