package locator

import "testing"

func TestParseIpinfoLocation(t *testing.T) {
	loc := parseIpinfoLocation(ipinfoIoResponse{Loc: "12.5,56.25", City: "Foobar"})
	if loc == nil {
		t.Fatalf("parseIpinfoLocation() = nil, want a location")
	}
	if loc.Latitude != 12.5 || loc.Longitude != 56.25 || loc.City != "Foobar" {
		t.Fatalf("parseIpinfoLocation() = %+v, want {12.5 56.25 Foobar}", loc)
	}
}

func TestParseIpinfoLocationTooManyFields(t *testing.T) {
	loc := parseIpinfoLocation(ipinfoIoResponse{Loc: "12.5,56.25,1.0", City: "Foobar"})
	if loc != nil {
		t.Fatalf("parseIpinfoLocation() = %+v, want nil for malformed loc", loc)
	}
}

func TestLocatorSeedsLoopback(t *testing.T) {
	l := New[int](testLogger())
	got := l.cache["127.0.0.1"]
	if got == nil || got.City != "Berlin" {
		t.Fatalf("cache[127.0.0.1] = %+v, want Berlin seed", got)
	}
}
