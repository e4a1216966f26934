package httputil

import (
	"net"
	"net/http"
	"time"

	"listings_sync/config"
)

type Clients struct {
	Feed    *http.Client // long-lived keep-alive pool to the listings feed
	Geocode *http.Client
	Media   *http.Client // photo downloads for the mirror
}

func NewClients(cfg *config.Config) *Clients {
	feedTimeout := cfg.Feed.Timeout
	if feedTimeout <= 0 {
		feedTimeout = 60 * time.Second
	}
	geocodeTimeout := cfg.Sync.GeocodeTimeout
	if geocodeTimeout <= 0 {
		geocodeTimeout = 15 * time.Second
	}

	return &Clients{
		Feed:    &http.Client{Timeout: feedTimeout, Transport: newTransport(8)},
		Geocode: &http.Client{Timeout: geocodeTimeout, Transport: newTransport(2)},
		Media:   &http.Client{Timeout: 60 * time.Second, Transport: newTransport(4)},
	}
}

func newTransport(maxPerHost int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   maxPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 45 * time.Second,
	}
}
