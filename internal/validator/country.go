package validator

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"golang.org/x/net/idna"

	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/logger"
)

// GeoLookup maps an address to a two letter ISO country code.
type GeoLookup interface {
	Country(ip net.IP) (string, error)
}

// GeoIPDatabase reads a local MaxMind country or city database.
type GeoIPDatabase struct {
	reader *geoip2.Reader
}

func OpenGeoIP(path string) (*GeoIPDatabase, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database %s: %w", path, err)
	}
	return &GeoIPDatabase{reader: reader}, nil
}

func (g *GeoIPDatabase) Country(ip net.IP) (string, error) {
	record, err := g.reader.Country(ip)
	if err != nil {
		return "", err
	}
	return record.Country.IsoCode, nil
}

func (g *GeoIPDatabase) Close() error {
	return g.reader.Close()
}

// checkCountry locates the host of u. Domain names that do not resolve are
// unsupported, while an unparsable address literal only loses its country.
func (v *Validator) checkCountry(ctx context.Context, u string) (string, error) {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Hostname() == "" {
		return "", domain.UnsupportedHost(u)
	}
	host := parsed.Hostname()

	var ip net.IP
	if looksLikeIP(host) {
		ip = net.ParseIP(host)
		if ip == nil {
			return domain.UnknownCountry, nil
		}
	} else {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", domain.UnsupportedHost(u)
		}
		addrs, err := v.resolver.LookupIPAddr(ctx, ascii)
		if err != nil || len(addrs) == 0 {
			v.logger.Debug("host does not resolve",
				logger.String("host", ascii),
				logger.Error(err))
			return "", domain.UnsupportedHost(u)
		}
		ip = addrs[0].IP
	}

	if v.geo == nil {
		return domain.UnknownCountry, nil
	}
	code, err := v.geo.Country(ip)
	if err != nil || len(code) != 2 {
		return domain.UnknownCountry, nil
	}
	return strings.ToUpper(code), nil
}

// looksLikeIP tells address literals apart from domain names without
// validating them.
func looksLikeIP(host string) bool {
	if strings.Contains(host, ":") {
		return true
	}
	for _, r := range host {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return host != ""
}
