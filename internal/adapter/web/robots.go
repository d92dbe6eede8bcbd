package web

import (
	"bufio"
	"context"
	"strings"
)

// Robots is a minimal robots.txt disallow-prefix matcher scoped to a
// single user-agent group (ours, or "*" if ours is absent). It only
// understands User-agent/Disallow/Allow directives, which is all
// RefreshIndex needs.
type Robots struct {
	disallow []string
	allow    []string
}

// FetchRobots retrieves and parses host's robots.txt. A fetch failure
// is treated as "no restrictions" rather than an error, since an
// unreachable robots.txt must not block crawling entirely.
func FetchRobots(ctx context.Context, client *Client, baseURL, userAgent string) *Robots {
	status, body, err := client.Get(ctx, strings.TrimRight(baseURL, "/")+"/robots.txt")
	if err != nil || status != 200 {
		return &Robots{}
	}
	return parseRobots(string(body), userAgent)
}

func parseRobots(body, userAgent string) *Robots {
	specific, wildcard := &Robots{}, &Robots{}
	var target *Robots
	scanner := bufio.NewScanner(strings.NewReader(body))

	sawSpecific := false
	ua := strings.ToLower(userAgent)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := splitDirective(line)
		if !ok {
			continue
		}

		switch strings.ToLower(key) {
		case "user-agent":
			agent := strings.ToLower(val)
			if agent == "*" {
				target = wildcard
			} else if ua != "" && strings.Contains(ua, agent) {
				target = specific
				sawSpecific = true
			} else {
				target = nil
			}
		case "disallow":
			if target != nil && val != "" {
				target.disallow = append(target.disallow, val)
			}
		case "allow":
			if target != nil && val != "" {
				target.allow = append(target.allow, val)
			}
		}
	}
	if sawSpecific {
		return specific
	}
	return wildcard
}

func splitDirective(line string) (key, val string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

// Allowed reports whether path may be fetched: the longest matching
// Allow/Disallow prefix wins, defaulting to allowed when no rule matches.
func (r *Robots) Allowed(path string) bool {
	if r == nil {
		return true
	}
	bestLen := -1
	allowed := true
	for _, p := range r.disallow {
		if strings.HasPrefix(path, p) && len(p) > bestLen {
			bestLen = len(p)
			allowed = false
		}
	}
	for _, p := range r.allow {
		if strings.HasPrefix(path, p) && len(p) > bestLen {
			bestLen = len(p)
			allowed = true
		}
	}
	return allowed
}
