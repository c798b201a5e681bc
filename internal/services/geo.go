package services

import (
	"context"
	"encoding/json"
	"net/netip"
	"os"
)

// StaticGeoResolver resolves IPs against a prefix table loaded from a JSON
// file. It stands in for a commercial GeoIP database in deployments that do
// not license one; unmatched IPs simply resolve as unknown, which disables
// the travel check for that login.
type StaticGeoResolver struct {
	entries []geoEntry
}

type geoEntry struct {
	prefix netip.Prefix
	lat    float64
	lon    float64
}

type geoFileEntry struct {
	CIDR      string  `json:"cidr"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewStaticGeoResolver loads the prefix table from path. An empty path
// returns a resolver that never matches.
func NewStaticGeoResolver(path string) (*StaticGeoResolver, error) {
	r := &StaticGeoResolver{}
	if path == "" {
		return r, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fileEntries []geoFileEntry
	if err := json.Unmarshal(raw, &fileEntries); err != nil {
		return nil, err
	}

	for _, fe := range fileEntries {
		prefix, err := netip.ParsePrefix(fe.CIDR)
		if err != nil {
			return nil, err
		}
		r.entries = append(r.entries, geoEntry{prefix: prefix, lat: fe.Latitude, lon: fe.Longitude})
	}
	return r, nil
}

// Resolve returns the coordinates of the first prefix containing the IP.
func (r *StaticGeoResolver) Resolve(_ context.Context, ip string) (lat, lon float64, ok bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return 0, 0, false
	}
	for _, e := range r.entries {
		if e.prefix.Contains(addr) {
			return e.lat, e.lon, true
		}
	}
	return 0, 0, false
}
