package validator

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/probe"
)

type redirectResult struct {
	url           string
	https         bool
	httpsRedirect bool
}

// checkRedirect asks the plain HTTP variant of u whether it sends visitors to
// HTTPS. An HTTP instance that redirects is upgraded to the HTTPS location.
func (v *Validator) checkRedirect(ctx context.Context, u string) (redirectResult, error) {
	isHTTPS := strings.HasPrefix(u, "https://")
	res := redirectResult{url: u, https: isHTTPS}

	resp, err := v.client.Head(ctx, domain.HTTPVariant(u))
	if err != nil {
		// No plain HTTP listener at all counts as enforcing HTTPS.
		if isHTTPS && errors.Is(err, domain.ErrUnresponsive) {
			res.httpsRedirect = true
			return res, nil
		}
		return res, err
	}
	defer probe.Drain(resp)

	if !isRedirect(resp.StatusCode) {
		return res, nil
	}
	location := resp.Header.Get("Location")
	if !strings.HasPrefix(location, "https://") {
		return res, nil
	}

	res.httpsRedirect = true
	if !isHTTPS {
		res.url = domain.CanonicalURL(location)
		res.https = true
	}
	return res, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}
