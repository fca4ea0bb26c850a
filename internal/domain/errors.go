package domain

import (
	"errors"
	"fmt"
)

// Failure kinds. A *Failure always wraps exactly one of these, so callers
// branch with errors.Is(err, domain.ErrNotAllowed).
var (
	ErrInvalidURL      = errors.New("invalid url")
	ErrUnsupportedHost = errors.New("unsupported host")
	ErrUnresponsive    = errors.New("unresponsive")
	ErrBadStatus       = errors.New("bad status")
	ErrNotAllowed      = errors.New("not allowed")
	ErrNotThisService  = errors.New("not this service")
)

// ErrInstanceExists is returned when inserting an already listed canonical URL.
var ErrInstanceExists = errors.New("instance already exists")

// Failure is a typed validation failure carrying what the user needs to act on it.
type Failure struct {
	Kind    error
	URL     string
	Status  int     // upstream status code, BadStatus only
	Reason  string  // transport detail, Unresponsive only
	Variant Variant // expected service, NotThisService only
}

func (f *Failure) Error() string {
	switch f.Kind {
	case ErrInvalidURL:
		return fmt.Sprintf("Not a valid URL: %s", f.URL)
	case ErrUnsupportedHost:
		return fmt.Sprintf("Host or domain of URL %s is not supported.", f.URL)
	case ErrUnresponsive:
		if f.Reason != "" {
			return fmt.Sprintf("Web server on URL %s is not responding %s.", f.URL, f.Reason)
		}
		return fmt.Sprintf("Web server on URL %s is not responding.", f.URL)
	case ErrBadStatus:
		return fmt.Sprintf("Web server responded with status code %d.", f.Status)
	case ErrNotAllowed:
		return fmt.Sprintf("Web server on URL %s doesn't want to get added to the directory.", f.URL)
	case ErrNotThisService:
		return fmt.Sprintf("The URL %s doesn't seem to be a %s instance.", f.URL, f.Variant.ServiceName())
	default:
		return fmt.Sprintf("Validation of %s failed.", f.URL)
	}
}

func (f *Failure) Unwrap() error { return f.Kind }

func InvalidURL(url string) *Failure { return &Failure{Kind: ErrInvalidURL, URL: url} }

func UnsupportedHost(url string) *Failure { return &Failure{Kind: ErrUnsupportedHost, URL: url} }

func Unresponsive(url, reason string) *Failure {
	return &Failure{Kind: ErrUnresponsive, URL: url, Reason: reason}
}

func BadStatus(url string, status int) *Failure {
	return &Failure{Kind: ErrBadStatus, URL: url, Status: status}
}

func NotAllowed(url string) *Failure { return &Failure{Kind: ErrNotAllowed, URL: url} }

func NotThisService(url string, v Variant) *Failure {
	return &Failure{Kind: ErrNotThisService, URL: url, Variant: v}
}

// IsTerminal reports failures that remove an instance on re-validation.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNotAllowed) || errors.Is(err, ErrNotThisService)
}
