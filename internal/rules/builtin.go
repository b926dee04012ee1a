package rules

import "gatekeep/internal/schema"

// BuiltinRules returns the default signature rule set. Checksums are
// computed at construction so the integrity check holds for builtins too.
func BuiltinRules() []*Rule {
	defs := []*Rule{
		{
			ID:       "waf-sqli-001",
			Name:     "SQL injection: tautology",
			Category: CategoryInjection,
			Severity: schema.SeverityCritical,
			Patterns: []string{
				`('|%27)\s*(or|and)\s+\d+\s*=\s*\d+`,
				`('|%27)\s*(or|and)\s*('|%27)?1('|%27)?\s*=\s*('|%27)?1`,
			},
			Enabled: true,
		},
		{
			ID:       "waf-sqli-002",
			Name:     "SQL injection: union select",
			Category: CategoryInjection,
			Severity: schema.SeverityCritical,
			Patterns: []string{
				`union(\s|%20|/\*.*\*/)+(all(\s|%20)+)?select`,
			},
			Enabled: true,
		},
		{
			ID:       "waf-sqli-003",
			Name:     "SQL injection: stacked statements",
			Category: CategoryInjection,
			Severity: schema.SeverityHigh,
			Patterns: []string{
				`;\s*(drop|truncate|alter)\s+(table|database)`,
				`;\s*(insert|update|delete)\s+`,
				`(sleep|benchmark|pg_sleep)\s*\(`,
			},
			Enabled: true,
		},
		{
			ID:       "waf-xss-001",
			Name:     "Cross-site scripting: script tag",
			Category: CategoryXSS,
			Severity: schema.SeverityHigh,
			Patterns: []string{
				`<\s*script`,
				`%3c\s*script`,
			},
			Enabled: true,
		},
		{
			ID:       "waf-xss-002",
			Name:     "Cross-site scripting: event handlers and javascript URIs",
			Category: CategoryXSS,
			Severity: schema.SeverityHigh,
			Patterns: []string{
				`javascript\s*:`,
				`on(error|load|click|mouseover|focus)\s*=`,
				`<\s*(iframe|object|embed|svg)`,
			},
			Enabled: true,
		},
		{
			ID:       "waf-trav-001",
			Name:     "Path traversal",
			Category: CategoryPathTraversal,
			Severity: schema.SeverityHigh,
			Patterns: []string{
				`\.\./`,
				`\.\.\\`,
				`%2e%2e(%2f|%5c)`,
				`/etc/(passwd|shadow|hosts)`,
				`c:\\windows\\`,
			},
			Enabled: true,
		},
		{
			ID:       "waf-cmdi-001",
			Name:     "Command injection",
			Category: CategoryCommandInjection,
			Severity: schema.SeverityCritical,
			Patterns: []string{
				`;\s*(cat|ls|id|whoami|rm|wget|curl|nc|bash|sh)(\s|$)`,
				`\|\s*(cat|ls|id|whoami|nc|bash|sh)(\s|$)`,
				"`[^`]+`",
				`\$\([^)]+\)`,
				`&&\s*(cat|ls|id|whoami|rm)(\s|$)`,
			},
			Enabled: true,
		},
		{
			ID:       "waf-bot-001",
			Name:     "Scanner user agents",
			Category: CategoryBot,
			Severity: schema.SeverityMedium,
			Patterns: []string{
				`sqlmap`,
				`nikto`,
				`nmap`,
				`masscan`,
				`dirbuster`,
				`gobuster`,
				`acunetix`,
			},
			Enabled: true,
		},
		{
			ID:       "waf-bot-002",
			Name:     "Scripted clients",
			Category: CategoryBot,
			Severity: schema.SeverityLow,
			Patterns: []string{
				`python-requests`,
				`go-http-client`,
				`^curl/`,
				`^wget/`,
			},
			Enabled: true,
		},
	}

	for _, r := range defs {
		r.Checksum = r.ComputeChecksum()
	}
	return defs
}
