package validator

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/MrSnakeDoc/directory/internal/probe"
	"github.com/MrSnakeDoc/directory/internal/version"
)

// checkRobots fails with NotAllowed when robots.txt shuts the bot out of
// the whole site. A missing or unreachable robots.txt allows everything.
func (v *Validator) checkRobots(ctx context.Context, u string) error {
	robotsURL := u + "/robots.txt"
	if strings.HasSuffix(u, "/") {
		robotsURL = u + "robots.txt"
	}

	resp, err := v.client.Get(ctx, robotsURL, probe.KeepAlive)
	if err != nil {
		v.logger.Debug("robots.txt not reachable, assuming no restrictions",
			logger.String("url", robotsURL),
			logger.Error(err))
		return nil
	}
	defer probe.Drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil
	}
	if disallowsAgent(resp.Body, version.BotName) {
		return domain.NotAllowed(u)
	}
	return nil
}

// disallowsAgent reports whether a group addressed to agent by name holds a
// "Disallow: /" rule. Wildcard groups are ignored, opting out of this
// directory takes an explicit mention.
func disallowsAgent(body io.Reader, agent string) bool {
	var (
		groupAgents []string
		inRules     bool
	)

	lr := probe.NewLineReader(body, probe.MaxLines)
	for line, err := range lr.Lines() {
		if err != nil {
			return false
		}
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		value = strings.TrimSpace(value)

		switch field {
		case "user-agent":
			if inRules {
				groupAgents = nil
				inRules = false
			}
			groupAgents = append(groupAgents, value)
		case "disallow":
			inRules = true
			if value == "/" && namesAgent(groupAgents, agent) {
				return true
			}
		case "allow", "crawl-delay":
			inRules = true
		}
	}
	return false
}

func namesAgent(groupAgents []string, agent string) bool {
	for _, a := range groupAgents {
		name, _, _ := strings.Cut(a, "/")
		if strings.EqualFold(strings.TrimSpace(name), agent) {
			return true
		}
	}
	return false
}
