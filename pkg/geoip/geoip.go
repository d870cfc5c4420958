package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoIP enriches session device info from GeoLite2 databases. Enrichment is
// best effort and never blocks a login.
type GeoIP interface {
	Close() (err error)
	Lookup(ip net.IP) DeviceGeo
}

type Geo struct {
	countryDB *geoip2.Reader // GeoLite2-Country.mmdb
	asnDB     *geoip2.Reader // GeoLite2-ASN.mmdb
}

func NewGeo(countryPath, asnPath string) (g *Geo, err error) {
	var cdb *geoip2.Reader
	if countryPath != "" {
		if cdb, err = geoip2.Open(countryPath); err != nil {
			return nil, err
		}
	}

	var adb *geoip2.Reader
	if asnPath != "" {
		if adb, err = geoip2.Open(asnPath); err != nil {
			if cdb != nil {
				if cErr := cdb.Close(); cErr != nil {
					err = fmt.Errorf("%w, failed to close geoip db: %v", err, cErr)
				}
			}

			return nil, err
		}
	}

	return &Geo{
		countryDB: cdb,
		asnDB:     adb,
	}, nil
}

func (g *Geo) Close() (err error) {
	if g.asnDB != nil {
		if cErr := g.asnDB.Close(); cErr != nil {
			err = fmt.Errorf("%w, failed to close geoip db: %v", err, cErr)
		}
	}

	if g.countryDB != nil {
		if cErr := g.countryDB.Close(); cErr != nil {
			err = fmt.Errorf("%w, failed to close geoip db: %v", err, cErr)
		}
	}

	return err
}

type DeviceGeo struct {
	Country string // ISO-2
	ASN     uint
	ASNOrg  string
}

func (g *Geo) Lookup(ip net.IP) DeviceGeo {
	var out DeviceGeo
	if ip == nil {
		return out
	}

	if g.countryDB != nil {
		if rec, err := g.countryDB.Country(ip); err == nil && rec != nil {
			out.Country = rec.Country.IsoCode
		}
	}

	if g.asnDB != nil {
		if rec, err := g.asnDB.ASN(ip); err == nil && rec != nil {
			out.ASN = rec.AutonomousSystemNumber
			out.ASNOrg = rec.AutonomousSystemOrganization
		}
	}

	return out
}
