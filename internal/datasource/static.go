package datasource

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// StaticClient serves fixed bandwidth values from the source's settings map.
// Setting keys look like "host:iface" with an "in:out" value, e.g.
// "core1:eth0" => "1000000:2000000". Useful for demo maps and tests.
type StaticClient struct {
	values map[string]CurrentValues
}

func NewStaticClient(settings map[string]string) *StaticClient {
	c := &StaticClient{values: map[string]CurrentValues{}}
	for k, v := range settings {
		inStr, outStr, ok := strings.Cut(v, ":")
		if !ok {
			continue
		}
		in, err1 := strconv.ParseFloat(strings.TrimSpace(inStr), 64)
		out, err2 := strconv.ParseFloat(strings.TrimSpace(outStr), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		c.values[k] = CurrentValues{In: in, Out: out}
	}
	return c
}

func (c *StaticClient) TestConnection(ctx context.Context) (string, error) {
	return fmt.Sprintf("static source (%d metrics)", len(c.values)), nil
}

func (c *StaticClient) Hosts(ctx context.Context, search string) ([]Host, error) {
	seen := map[string]bool{}
	var hosts []Host
	for k := range c.values {
		host, _, ok := strings.Cut(k, ":")
		if !ok || seen[host] {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(host), strings.ToLower(search)) {
			continue
		}
		seen[host] = true
		hosts = append(hosts, Host{ID: host, Name: host, Enabled: true})
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Name < hosts[j].Name })
	return hosts, nil
}

func (c *StaticClient) InterfaceOptions(ctx context.Context, hostID string) ([]InterfaceOption, error) {
	var opts []InterfaceOption
	for k := range c.values {
		host, iface, ok := strings.Cut(k, ":")
		if !ok || host != hostID {
			continue
		}
		opts = append(opts, InterfaceOption{
			InterfaceID: iface,
			Label:       iface,
			RxKey:       k + ":in",
			TxKey:       k + ":out",
		})
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Label < opts[j].Label })
	return opts, nil
}

func (c *StaticClient) lookup(sel Selector) (CurrentValues, error) {
	key := strings.TrimSuffix(sel.InKey, ":in")
	cv, ok := c.values[key]
	if !ok {
		return CurrentValues{}, upstream(fmt.Errorf("no static metric %q", key))
	}
	return cv, nil
}

func (c *StaticClient) ResolveCurrent(ctx context.Context, sel Selector) (CurrentValues, error) {
	return c.lookup(sel)
}

func (c *StaticClient) ResolveSeries(ctx context.Context, sel Selector, window time.Duration) (*BandwidthSeries, error) {
	cv, err := c.lookup(sel)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	return &BandwidthSeries{
		HostName: sel.HostID,
		In: Series{
			MetricID:    sel.InKey,
			DisplayName: sel.InKey,
			Units:       "bps",
			LastValue:   cv.In,
			Points:      []SeriesPoint{{Timestamp: now, Value: cv.In}},
		},
		Out: Series{
			MetricID:    sel.OutKey,
			DisplayName: sel.OutKey,
			Units:       "bps",
			LastValue:   cv.Out,
			Points:      []SeriesPoint{{Timestamp: now, Value: cv.Out}},
		},
	}, nil
}
