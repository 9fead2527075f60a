// Package geo annotates public addresses from a MaxMind database.
package geo

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/maxminddb-golang"
)

var ErrInvalidIP = errors.New("invalid ip")

// Info is the subset of GeoLite2 City / ASN fields reported with a run.
type Info struct {
	IP          string  `json:"ip"`
	Network     string  `json:"network,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Country     string  `json:"country,omitempty"`
	City        string  `json:"city,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	TimeZone    string  `json:"time_zone,omitempty"`
	ASN         uint    `json:"asn,omitempty"`
	ASOrg       string  `json:"as_org,omitempty"`
}

// String renders the location as "City, Country (ASN org)" with the parts
// that are known.
func (i Info) String() string {
	parts := make([]string, 0, 2)
	if i.City != "" {
		parts = append(parts, i.City)
	}
	if i.Country != "" {
		parts = append(parts, i.Country)
	} else if i.CountryCode != "" {
		parts = append(parts, i.CountryCode)
	}
	s := strings.Join(parts, ", ")
	if s == "" {
		s = i.IP
	}
	if i.ASN != 0 {
		s += fmt.Sprintf(" (AS%d %s)", i.ASN, i.ASOrg)
	}
	return s
}

type record struct {
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
		TimeZone  string  `maxminddb:"time_zone"`
	} `maxminddb:"location"`
	ASN   uint   `maxminddb:"autonomous_system_number"`
	ASOrg string `maxminddb:"autonomous_system_organization"`
}

type DB struct {
	reader *maxminddb.Reader
}

func Open(path string) (*DB, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &DB{reader: reader}, nil
}

// Lookup returns what the database knows about addr. A miss yields an Info
// carrying only the address.
func (d *DB) Lookup(addr string) (Info, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return Info{}, fmt.Errorf("%w: %q", ErrInvalidIP, addr)
	}
	var rec record
	network, ok, err := d.reader.LookupNetwork(ip, &rec)
	if err != nil {
		return Info{}, fmt.Errorf("geoip lookup %s: %w", addr, err)
	}
	info := Info{IP: ip.String()}
	if !ok {
		return info, nil
	}
	if network != nil {
		info.Network = network.String()
	}
	info.CountryCode = rec.Country.ISOCode
	info.Country = rec.Country.Names["en"]
	info.City = rec.City.Names["en"]
	info.Latitude = rec.Location.Latitude
	info.Longitude = rec.Location.Longitude
	info.TimeZone = rec.Location.TimeZone
	info.ASN = rec.ASN
	info.ASOrg = rec.ASOrg
	return info, nil
}

func (d *DB) Close() error {
	return d.reader.Close()
}
