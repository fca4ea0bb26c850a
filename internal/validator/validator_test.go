package validator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/probe"
)

const modernPage = `<!DOCTYPE html>
<html lang="en">
<head>
<link type="text/css" rel="stylesheet" href="css/bootstrap5/bootstrap-5.3.3.css" />
<script type="text/javascript" src="js/privatebin.js?1.7.4" crossorigin="anonymous"></script>
</head>
<body>
<div id="attachment" class="hidden"></div>
</body>
</html>
`

const legacyPage = `<html><head>
<script src="js/zerobin.js?0.20"></script>
</head><body>ZeroBin</body></html>
`

const jitsiPage = `<html><head>
<script src="libs/lib-jitsi-meet.min.js?v=7648"></script>
</head></html>
`

// site is a fake instance: a front page, an optional robots.txt and a CSP.
func site(page, robots, csp string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			if robots == "" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(robots))
		case "/":
			if csp != "" {
				w.Header().Set("Content-Security-Policy", csp)
			}
			_, _ = w.Write([]byte(page))
		default:
			http.NotFound(w, r)
		}
	})
}

type staticGeo map[string]string

func (g staticGeo) Country(ip net.IP) (string, error) {
	code, ok := g[ip.String()]
	if !ok {
		return "", errors.New("no entry")
	}
	return code, nil
}

// noPlainHTTP refuses every http:// request, like a host without port 80.
type noPlainHTTP struct{ next http.RoundTripper }

func (t noPlainHTTP) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.URL.Scheme == "http" {
		return nil, errors.New("connection refused")
	}
	return t.next.RoundTrip(r)
}

func newTestValidator(t *testing.T, rt http.RoundTripper, observatoryURL string) *Validator {
	t.Helper()
	client := probe.NewClient(probe.Options{Transport: rt})
	opts := Options{
		Client: client,
		Geo:    staticGeo{"127.0.0.1": "ch"},
	}
	if observatoryURL != "" {
		opts.Rater = NewRater(RaterOptions{Endpoint: observatoryURL, Client: client})
	}
	return New(opts)
}

func TestValidate_HTTPRedirectsToHTTPS(t *testing.T) {
	tlsSite := httptest.NewTLSServer(site(modernPage, "", RecommendedCSP))
	defer tlsSite.Close()

	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, tlsSite.URL+"/", http.StatusMovedPermanently)
	}))
	defer plain.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"FINISHED","grade":"A"}`))
	}))
	defer api.Close()

	v := newTestValidator(t, tlsSite.Client().Transport, api.URL)
	cand, err := v.Validate(context.Background(), plain.URL+"/index.php?foo#bar")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	got := cand.Instance
	if got.URL != tlsSite.URL {
		t.Errorf("URL = %q, want the adopted https location %q", got.URL, tlsSite.URL)
	}
	if !got.HTTPS || !got.HTTPSRedirect {
		t.Errorf("https = %v, https_redirect = %v, want both true", got.HTTPS, got.HTTPSRedirect)
	}
	if got.Version != "1.7.4" || !got.Attachments || !got.CSPHeader {
		t.Errorf("properties = %+v", got)
	}
	if got.CountryID != "CH" {
		t.Errorf("CountryID = %q, want CH", got.CountryID)
	}
	if got.Variant != domain.VariantPrivateBin {
		t.Errorf("Variant = %v", got.Variant)
	}
	if len(cand.Scans) != 1 || cand.Scans[0].Rating != "A" || cand.Scans[0].Percent != 93 {
		t.Errorf("Scans = %+v, want one A rating", cand.Scans)
	}
}

func TestValidate_HTTPSOnlyHostCountsAsRedirecting(t *testing.T) {
	tlsSite := httptest.NewTLSServer(site(modernPage, "", ""))
	defer tlsSite.Close()

	v := newTestValidator(t, noPlainHTTP{tlsSite.Client().Transport}, "")
	cand, err := v.Validate(context.Background(), tlsSite.URL+"/")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !cand.Instance.HTTPS || !cand.Instance.HTTPSRedirect {
		t.Errorf("https = %v, https_redirect = %v, want both true", cand.Instance.HTTPS, cand.Instance.HTTPSRedirect)
	}
	if cand.Instance.CSPHeader {
		t.Errorf("CSPHeader = true without a header")
	}
	if cand.Rating(domain.ScannerMozillaObservatory) != domain.NoRating {
		t.Errorf("rating = %q without a rater", cand.Rating(domain.ScannerMozillaObservatory))
	}
}

func TestValidate_LegacyPlainHTTP(t *testing.T) {
	srv := httptest.NewServer(site(legacyPage, "User-agent: *\nDisallow: /\n", ""))
	defer srv.Close()

	v := newTestValidator(t, nil, "")
	cand, err := v.Validate(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	got := cand.Instance
	if got.URL != srv.URL {
		t.Errorf("URL = %q, want trailing slash stripped %q", got.URL, srv.URL)
	}
	if got.HTTPS || got.HTTPSRedirect {
		t.Errorf("https = %v, https_redirect = %v, want both false", got.HTTPS, got.HTTPSRedirect)
	}
	if got.Version != "0.20" || !got.CSPHeader || got.Attachments {
		t.Errorf("properties = %+v", got)
	}
}

func TestValidate_Failures(t *testing.T) {
	disallowing := httptest.NewServer(site(modernPage, "User-agent: PrivateBinDirectoryBot\nDisallow: /\n", ""))
	defer disallowing.Close()

	notPaste := httptest.NewServer(site("<html><body>About PrivateBin</body></html>", "", ""))
	defer notPaste.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	gone := httptest.NewServer(http.NotFoundHandler())
	goneURL := gone.URL
	gone.Close()

	tests := []struct {
		name    string
		url     string
		variant domain.Variant
		kind    error
		message string
	}{
		{"no scheme", "paste.example.org", domain.VariantPrivateBin, domain.ErrInvalidURL, "Not a valid URL: paste.example.org"},
		{"robots disallow", disallowing.URL, domain.VariantPrivateBin, domain.ErrNotAllowed, "doesn't want to get added"},
		{"no version marker", notPaste.URL, domain.VariantPrivateBin, domain.ErrNotThisService, "doesn't seem to be a PrivateBin instance"},
		{"jitsi marker missing", notPaste.URL, domain.VariantJitsi, domain.ErrNotThisService, "doesn't seem to be a Jitsi instance"},
		{"bad status", broken.URL, domain.VariantPrivateBin, domain.ErrBadStatus, "status code 503"},
		{"unreachable http", goneURL, domain.VariantPrivateBin, domain.ErrUnresponsive, "is not responding"},
	}

	v := newTestValidator(t, nil, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand, err := v.ValidateVariant(context.Background(), tt.url, tt.variant)
			if err == nil {
				t.Fatalf("ValidateVariant() = %+v, want %v", cand, tt.kind)
			}
			if !errors.Is(err, tt.kind) {
				t.Fatalf("ValidateVariant() error = %v, want %v", err, tt.kind)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("message %q does not contain %q", err.Error(), tt.message)
			}
		})
	}
}

func TestValidate_Jitsi(t *testing.T) {
	srv := httptest.NewServer(site(jitsiPage, "", ""))
	defer srv.Close()

	cand, err := newTestValidator(t, nil, "").ValidateVariant(context.Background(), srv.URL, domain.VariantJitsi)
	if err != nil {
		t.Fatalf("ValidateVariant() error = %v", err)
	}
	if cand.Instance.Version != "7648" || cand.Instance.Variant != domain.VariantJitsi {
		t.Errorf("instance = %+v", cand.Instance)
	}
}

type fakeResolver struct {
	addrs map[string][]net.IPAddr
}

func (r fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if a, ok := r.addrs[host]; ok {
		return a, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func TestCheckCountry(t *testing.T) {
	v := New(Options{
		Geo: staticGeo{"192.0.2.10": "de", "2001:db8::1": "FR"},
		Resolver: fakeResolver{addrs: map[string][]net.IPAddr{
			"paste.example.org":            {{IP: net.ParseIP("192.0.2.10")}},
			"nowhere.example.org":          {{IP: net.ParseIP("198.51.100.1")}},
			"xn--zerobin-tst-t8a.dssr.ch": {{IP: net.ParseIP("2001:db8::1")}},
		}},
	})

	tests := []struct {
		name    string
		url     string
		want    string
		wantErr error
	}{
		{"domain", "https://paste.example.org/sub/", "DE", nil},
		{"idn domain", "https://zerobin-täst.dssr.ch", "FR", nil},
		{"domain without geo entry", "https://nowhere.example.org", domain.UnknownCountry, nil},
		{"unresolvable domain", "https://nope.invalid", "", domain.ErrUnsupportedHost},
		{"ipv4 literal", "http://192.0.2.10:8080", "DE", nil},
		{"ipv6 literal", "http://[2001:db8::1]/", "FR", nil},
		{"broken ipv4 literal", "http://999.1.1.1", domain.UnknownCountry, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.checkCountry(context.Background(), tt.url)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("checkCountry() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("checkCountry() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("checkCountry() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheckCountry_NoDatabase(t *testing.T) {
	v := New(Options{})
	got, err := v.checkCountry(context.Background(), "http://127.0.0.1:1234")
	if err != nil || got != domain.UnknownCountry {
		t.Errorf("checkCountry() = %q, %v, want %q", got, err, domain.UnknownCountry)
	}
}

func TestLooksLikeIP(t *testing.T) {
	for host, want := range map[string]bool{
		"127.0.0.1":   true,
		"999.1.1.1":   true,
		"::1":         true,
		"example.org": false,
		"10.example":  false,
		"":            false,
	} {
		if got := looksLikeIP(host); got != want {
			t.Errorf("looksLikeIP(%q) = %v, want %v", host, got, want)
		}
	}
}

func ExampleValidator_Validate() {
	srv := httptest.NewServer(site(legacyPage, "", ""))
	defer srv.Close()

	cand, err := New(Options{}).Validate(context.Background(), srv.URL+"//index.php")
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(cand.Instance.Version, cand.Instance.HTTPS, cand.Instance.CountryID)
	// Output: 0.20 false AQ
}
