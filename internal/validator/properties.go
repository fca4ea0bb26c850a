package validator

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/probe"
)

type properties struct {
	version     string
	attachments bool
	cspHeader   bool
}

type propertyChecker func(ctx context.Context, client *probe.Client, u string) (properties, error)

var propertyCheckers = map[domain.Variant]propertyChecker{
	domain.VariantPrivateBin: checkPrivateBin,
	domain.VariantJitsi:      checkJitsi,
}

var (
	privateBinVersion = regexp.MustCompile(`js/(privatebin|zerobin)\.js\?(Alpha%20)?(\d+\.\d+\.*\d*)`)
	privateBinTheme   = regexp.MustCompile(`css/bootstrap(\d*)/`)
	jitsiVersion      = regexp.MustCompile(`libs/lib-jitsi-meet\.min\.js\?v=(\d+\.*\d*)`)
)

const attachmentMarker = ` id="attachment" `

// fetchPage GETs the instance front page on a connection that is closed afterwards.
func fetchPage(ctx context.Context, client *probe.Client, u string) (*http.Response, error) {
	resp, err := client.Get(ctx, u, probe.Close)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		probe.Drain(resp)
		return nil, domain.BadStatus(u, resp.StatusCode)
	}
	return resp, nil
}

func checkPrivateBin(ctx context.Context, client *probe.Client, u string) (properties, error) {
	resp, err := fetchPage(ctx, client, u)
	if err != nil {
		return properties{}, err
	}
	defer probe.Drain(resp)

	policy := resp.Header.Get("Content-Security-Policy")
	page := scanPrivateBin(resp.Body)
	if page.version == "" {
		return properties{}, domain.NotThisService(u, domain.VariantPrivateBin)
	}
	return properties{
		version:     page.version,
		attachments: page.attachments,
		cspHeader:   cspCompliant(page.version, page.template, policy),
	}, nil
}

type privateBinPage struct {
	version     string
	attachments bool
	template    Template
}

func scanPrivateBin(body io.Reader) privateBinPage {
	var page privateBinPage
	lr := probe.NewLineReader(body, probe.MaxLines)
	for line, err := range lr.Lines() {
		if err != nil {
			break
		}
		if !page.attachments && strings.Contains(line, attachmentMarker) {
			page.attachments = true
		}
		if page.template == TemplateUnknown {
			if m := privateBinTheme.FindStringSubmatch(line); m != nil {
				page.template = TemplateBootstrap5
				if m[1] == "" {
					page.template = TemplateBootstrap3
				}
			}
		}
		if page.version == "" {
			if m := privateBinVersion.FindStringSubmatch(line); m != nil {
				page.version = m[3]
			}
		}
		if page.version != "" && page.attachments && page.template != TemplateUnknown {
			break
		}
	}
	return page
}

// checkJitsi only identifies the release, Jitsi has neither attachments nor
// a policy we track.
func checkJitsi(ctx context.Context, client *probe.Client, u string) (properties, error) {
	resp, err := fetchPage(ctx, client, u)
	if err != nil {
		return properties{}, err
	}
	defer probe.Drain(resp)

	lr := probe.NewLineReader(resp.Body, probe.MaxLines)
	for line, err := range lr.Lines() {
		if err != nil {
			break
		}
		if m := jitsiVersion.FindStringSubmatch(line); m != nil {
			return properties{version: m[1]}, nil
		}
	}
	return properties{}, domain.NotThisService(u, domain.VariantJitsi)
}
