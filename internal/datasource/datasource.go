// Package datasource resolves link monitoring-target selectors into current
// and historical bandwidth values via pluggable backend clients.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUpstream marks failures reaching or authenticating with a monitoring
// backend. Callers degrade to "no live value"; an upstream failure must never
// block an edit or a save.
var ErrUpstream = errors.New("datasource upstream error")

// ErrBadSelector marks a selector that cannot be parsed.
var ErrBadSelector = errors.New("invalid datasource selector")

// Selector identifies one in/out metric pair on one host of one source.
// Documents store it as an opaque "sourceID|hostID|inKey|outKey" string; only
// this package interprets it.
type Selector struct {
	SourceID int64
	HostID   string
	InKey    string
	OutKey   string
}

func ParseSelector(s string) (Selector, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 4 {
		return Selector{}, fmt.Errorf("%w: %q", ErrBadSelector, s)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || id <= 0 {
		return Selector{}, fmt.Errorf("%w: bad source id in %q", ErrBadSelector, s)
	}
	sel := Selector{
		SourceID: id,
		HostID:   strings.TrimSpace(parts[1]),
		InKey:    strings.TrimSpace(parts[2]),
		OutKey:   strings.TrimSpace(parts[3]),
	}
	if sel.HostID == "" || sel.InKey == "" || sel.OutKey == "" {
		return Selector{}, fmt.Errorf("%w: empty field in %q", ErrBadSelector, s)
	}
	return sel, nil
}

func (s Selector) String() string {
	return fmt.Sprintf("%d|%s|%s|%s", s.SourceID, s.HostID, s.InKey, s.OutKey)
}

type Host struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// InterfaceOption is one pickable interface: a paired rx/tx metric key set
// with a human label. Both directions are always present.
type InterfaceOption struct {
	InterfaceID string `json:"interfaceId"`
	Label       string `json:"label"`
	RxKey       string `json:"rxKey"`
	TxKey       string `json:"txKey"`
}

type CurrentValues struct {
	In  float64 `json:"in"`
	Out float64 `json:"out"`
}

type SeriesPoint struct {
	Timestamp int64   `json:"t"`
	Value     float64 `json:"v"`
}

type Series struct {
	MetricID    string        `json:"metricId"`
	DisplayName string        `json:"name"`
	Units       string        `json:"units"`
	LastValue   float64       `json:"lastValue"`
	Points      []SeriesPoint `json:"points"`
}

// BandwidthSeries is the transient result of a historical fetch. It is never
// persisted beyond the short-lived cache.
type BandwidthSeries struct {
	HostName string `json:"hostName"`
	In       Series `json:"in"`
	Out      Series `json:"out"`
}

// Client is the contract every monitoring backend implements.
type Client interface {
	// TestConnection verifies reachability and auth, returning a backend
	// version or description string.
	TestConnection(ctx context.Context) (string, error)
	Hosts(ctx context.Context, search string) ([]Host, error)
	// InterfaceOptions lists paired in/out metrics for the picker.
	// Interfaces with only one direction present are excluded.
	InterfaceOptions(ctx context.Context, hostID string) ([]InterfaceOption, error)
	ResolveCurrent(ctx context.Context, sel Selector) (CurrentValues, error)
	ResolveSeries(ctx context.Context, sel Selector, window time.Duration) (*BandwidthSeries, error)
}

// SourceConfig describes one configured data source record.
type SourceConfig struct {
	ID       int64
	Name     string
	Type     string // "zabbix" | "snmp" | "static"
	URL      string
	Username string
	Password string
	APIToken string
	Settings map[string]string
}

// NewClient builds the backend client for a source record.
func NewClient(cfg SourceConfig) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "zabbix", "":
		return NewZabbixClient(ZabbixConfig{
			URL:      cfg.URL,
			Username: cfg.Username,
			Password: cfg.Password,
			APIToken: cfg.APIToken,
		}), nil
	case "snmp":
		return NewSNMPClient(SNMPConfigFromSettings(cfg.URL, cfg.Settings)), nil
	case "static":
		return NewStaticClient(cfg.Settings), nil
	default:
		return nil, fmt.Errorf("unsupported data source type %q", cfg.Type)
	}
}

func upstream(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}
