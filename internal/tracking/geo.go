package tracking

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoInfo is the location resolved from a click's IP address.
type GeoInfo struct {
	Country string
	Region  string
	City    string
}

// GeoProvider resolves IP addresses to locations. Lookups enrich
// click metadata only; a failed lookup never fails the click write.
type GeoProvider interface {
	Lookup(ip string) (*GeoInfo, error)
	Close() error
}

// MaxMindGeoProvider implements GeoProvider using a MaxMind GeoLite2
// database.
type MaxMindGeoProvider struct {
	reader *geoip2.Reader
}

// NewMaxMindGeoProvider opens the GeoLite2 database at dbPath.
func NewMaxMindGeoProvider(dbPath string) (*MaxMindGeoProvider, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindGeoProvider{reader: reader}, nil
}

// Lookup returns geo information for an IP address.
func (m *MaxMindGeoProvider) Lookup(ip string) (*GeoInfo, error) {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ip)
	}

	record, err := m.reader.City(parsedIP)
	if err != nil {
		return nil, err
	}

	info := &GeoInfo{
		Country: record.Country.IsoCode,
		City:    record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		info.Region = record.Subdivisions[0].Names["en"]
	}
	return info, nil
}

// Close closes the GeoIP database.
func (m *MaxMindGeoProvider) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}
