package federation

import (
	"net/url"
	"regexp"
	"strings"
)

var partnerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

const minSecretLen = 16

// Validate checks a partner definition and returns a *ValidationError
// listing every problem, or nil.
func Validate(p *Partner) error {
	var problems []string

	switch {
	case p.PartnerID == "":
		problems = append(problems, "partner_id is required")
	case !partnerIDPattern.MatchString(p.PartnerID):
		problems = append(problems, "partner_id may only contain letters, digits, dots, underscores and hyphens")
	}

	switch name := strings.TrimSpace(p.DisplayName); {
	case name == "":
		problems = append(problems, "partner_display_name is required")
	case len(name) < 3:
		problems = append(problems, "partner_display_name must be at least 3 characters")
	}

	if p.GovernanceEndpoint == "" {
		problems = append(problems, "governance_endpoint is required")
	} else if u, err := url.Parse(p.GovernanceEndpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, "governance_endpoint must be an http(s) URL")
	}

	if p.StaleThresholdDays < 1 {
		problems = append(problems, "stale_threshold_days must be at least 1")
	}
	if p.WebhookSecret != "" && len(p.WebhookSecret) < minSecretLen {
		problems = append(problems, "webhook_secret must be at least 16 characters")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
