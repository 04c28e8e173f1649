// Package privacy detects personally identifying data in identifiers and
// outbound JSON documents.
package privacy

import (
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	ipv4Pattern  = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
)

// Keys whose presence in a public response is itself a leak.
var forbiddenKeys = map[string]struct{}{
	"email":      {},
	"user_id":    {},
	"userid":     {},
	"ip":         {},
	"ip_address": {},
	"ipaddress":  {},
	"client_ip":  {},
}

// LooksLikeEmail reports whether s contains an email address.
func LooksLikeEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// LooksLikeIP reports whether s contains an IPv4 literal or is an IPv6
// address. A dotted quad that is part of a longer dotted run, such as
// "1.2.3.4.5", is not an address.
func LooksLikeIP(s string) bool {
	for _, loc := range ipv4Pattern.FindAllStringIndex(s, -1) {
		if loc[0] > 0 && s[loc[0]-1] == '.' {
			continue
		}
		if loc[1] < len(s)-1 && s[loc[1]] == '.' && isDigit(s[loc[1]+1]) {
			continue
		}
		if net.ParseIP(s[loc[0]:loc[1]]) != nil {
			return true
		}
	}
	return strings.Contains(s, ":") && net.ParseIP(strings.Trim(s, "[]")) != nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// versionOrIDKey reports whether values under key are version strings or
// record identifiers, where a dotted quad like "1.2.3.4" is expected.
func versionOrIDKey(key string) bool {
	lk := strings.ToLower(key)
	return strings.HasSuffix(lk, "version") || lk == "id" ||
		strings.HasSuffix(lk, "_id") || strings.HasSuffix(key, "Id")
}

// ContainsPII reports whether s carries an email address or IP literal.
func ContainsPII(s string) bool {
	return LooksLikeEmail(s) || LooksLikeIP(s)
}

// Finding locates one leak in a JSON document.
type Finding struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ScanJSON walks a JSON document and reports identifier-shaped keys and
// string values carrying emails or IP literals. Values under version and
// id keys are checked for emails only. Invalid JSON yields an error.
func ScanJSON(body []byte) ([]Finding, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("scan json: %w", err)
	}
	var out []Finding
	walk("$", "", doc, &out)
	return out, nil
}

func walk(path, key string, v any, out *[]Finding) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p := path + "." + k
			if _, bad := forbiddenKeys[strings.ToLower(k)]; bad {
				*out = append(*out, Finding{Path: p, Reason: "identifier field"})
			}
			walk(p, k, t[k], out)
		}
	case []any:
		for i, item := range t {
			walk(fmt.Sprintf("%s[%d]", path, i), key, item, out)
		}
	case string:
		switch {
		case LooksLikeEmail(t):
			*out = append(*out, Finding{Path: path, Reason: "email address"})
		case !versionOrIDKey(key) && LooksLikeIP(t):
			*out = append(*out, Finding{Path: path, Reason: "ip literal"})
		}
	}
}
