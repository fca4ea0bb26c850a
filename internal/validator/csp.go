package validator

import "strings"

// Template is the UI generation a PrivateBin page was rendered with.
type Template int

const (
	TemplateUnknown Template = iota
	TemplateBootstrap3
	TemplateBootstrap5
)

// RecommendedCSP is the policy current PrivateBin releases ship with.
const RecommendedCSP = "default-src 'none'; base-uri 'self'; " +
	"form-action 'none'; manifest-src 'self'; connect-src * blob:; " +
	"script-src 'self' 'unsafe-eval'; style-src 'self'; font-src 'self'; " +
	"frame-ancestors 'none'; img-src 'self' data: blob:; media-src blob:; " +
	"object-src blob:; sandbox allow-same-origin allow-scripts allow-forms " +
	"allow-popups allow-modals allow-downloads"

type cspRule struct {
	versionPrefix string
	policy        string
}

// cspRules lists the policy each release line shipped with. Evaluated top
// to bottom, the first rule whose prefix and policy both match wins.
var cspRules = []cspRule{
	{"1.3.5", "default-src 'none'; manifest-src 'self'; connect-src * blob:; " +
		"script-src 'self' 'unsafe-eval' resource:; style-src 'self'; " +
		"font-src 'self'; img-src 'self' data: blob:; media-src blob:; " +
		"object-src blob:; sandbox allow-same-origin allow-scripts allow-forms " +
		"allow-popups allow-modals allow-downloads"},
	{"1.3.", "default-src 'none'; manifest-src 'self'; connect-src * blob:; " +
		"script-src 'self' 'unsafe-eval'; style-src 'self'; font-src 'self'; " +
		"img-src 'self' data: blob:; media-src blob:; object-src blob:; sandbox " +
		"allow-same-origin allow-scripts allow-forms allow-popups allow-modals"},
	{"1.3", "default-src 'none'; manifest-src 'self'; connect-src *; " +
		"script-src 'self' 'unsafe-eval'; style-src 'self'; font-src 'self'; " +
		"img-src 'self' data: blob:; media-src blob:; object-src blob:; sandbox " +
		"allow-same-origin allow-scripts allow-forms allow-popups allow-modals"},
	// 1.2 really did ship a Referrer-Policy fragment inside its CSP.
	{"1.2", "default-src 'none'; manifest-src 'self'; connect-src *; " +
		"script-src 'self'; style-src 'self'; font-src 'self'; img-src 'self' " +
		"data:; media-src data:; object-src data:; Referrer-Policy: 'no-referrer'; " +
		"sandbox allow-same-origin allow-scripts allow-forms allow-popups " +
		"allow-modals"},
	{"1.1", "default-src 'none'; manifest-src 'self'; connect-src *; " +
		"script-src 'self'; style-src 'self'; font-src 'self'; " +
		"img-src 'self' data:; referrer no-referrer;"},
	// since 1.7.2, with bootstrap5
	{"1.7.", "default-src 'self'; base-uri 'self'; form-action 'none'; " +
		"manifest-src 'self'; connect-src * blob:; script-src 'self' " +
		"'unsafe-eval'; style-src 'self'; font-src 'self'; " +
		"frame-ancestors 'none'; img-src 'self' data: blob:; media-src blob:; " +
		"object-src blob:; sandbox allow-same-origin allow-scripts allow-forms " +
		"allow-modals allow-downloads"},
	// since 1.4
	{"1.", RecommendedCSP},
}

// cspCompliant compares a Content-Security-Policy header byte for byte with
// the policy of the release line. Pre 1.0 releases had no policy to compare.
func cspCompliant(version string, tpl Template, policy string) bool {
	if strings.HasPrefix(version, "0.") {
		return true
	}
	if policy == "" {
		return false
	}
	for _, rule := range cspRules {
		if !strings.HasPrefix(version, rule.versionPrefix) {
			continue
		}
		if policy == rule.policy {
			return true
		}
		if tpl == TemplateBootstrap3 && policy == bootstrap3WithoutPopups(rule.policy) {
			return true
		}
	}
	return false
}

// bootstrap3WithoutPopups is the relaxed policy accepted for the bootstrap3
// template, whose UI never opens popups.
func bootstrap3WithoutPopups(policy string) string {
	return strings.ReplaceAll(policy, " allow-popups", "")
}
