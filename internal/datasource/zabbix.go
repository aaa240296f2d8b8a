package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const zabbixTimeout = 30 * time.Second

// ZabbixConfig configures a Zabbix JSON-RPC client. APIToken takes priority
// over username/password auth when both are set.
type ZabbixConfig struct {
	URL        string
	Username   string
	Password   string
	APIToken   string
	HTTPClient *http.Client
}

type ZabbixClient struct {
	endpoint string
	username string
	password string
	token    string
	hc       *http.Client

	mu         sync.Mutex
	sessionTok string
}

func NewZabbixClient(cfg ZabbixConfig) *ZabbixClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: zabbixTimeout}
	}
	return &ZabbixClient{
		endpoint: zabbixEndpoint(cfg.URL),
		username: cfg.Username,
		password: cfg.Password,
		token:    cfg.APIToken,
		hc:       hc,
	}
}

// zabbixEndpoint tolerates both a bare server URL and a full endpoint URL.
func zabbixEndpoint(u string) string {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	if strings.HasSuffix(u, "api_jsonrpc.php") {
		return u
	}
	return u + "/api_jsonrpc.php"
}

type zabbixRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

type zabbixResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    string `json:"data"`
	} `json:"error"`
}

func (c *ZabbixClient) rpc(ctx context.Context, method string, params any, authed bool, out any) error {
	var bearer string
	if authed {
		tok, err := c.authToken(ctx)
		if err != nil {
			return err
		}
		bearer = tok
	}
	body, err := json.Marshal(zabbixRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json-rpc")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return upstream(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return upstream(fmt.Errorf("zabbix %s: http %d", method, resp.StatusCode))
	}
	var zr zabbixResponse
	if err := json.NewDecoder(resp.Body).Decode(&zr); err != nil {
		return upstream(fmt.Errorf("zabbix %s: %v", method, err))
	}
	if zr.Error != nil {
		return upstream(fmt.Errorf("zabbix %s: %s %s", method, zr.Error.Message, zr.Error.Data))
	}
	if out != nil {
		if err := json.Unmarshal(zr.Result, out); err != nil {
			return upstream(fmt.Errorf("zabbix %s: %v", method, err))
		}
	}
	return nil
}

// authToken returns the API token if configured, otherwise logs in once with
// username/password and caches the session token.
func (c *ZabbixClient) authToken(ctx context.Context) (string, error) {
	if c.token != "" {
		return c.token, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionTok != "" {
		return c.sessionTok, nil
	}
	var tok string
	err := c.rpc(ctx, "user.login", map[string]string{
		"username": c.username,
		"password": c.password,
	}, false, &tok)
	if err != nil {
		return "", err
	}
	c.sessionTok = tok
	return tok, nil
}

func (c *ZabbixClient) TestConnection(ctx context.Context) (string, error) {
	var version string
	if err := c.rpc(ctx, "apiinfo.version", map[string]any{}, false, &version); err != nil {
		return "", err
	}
	// Version is public; confirm credentials actually work too.
	if err := c.rpc(ctx, "host.get", map[string]any{"countOutput": true}, true, nil); err != nil {
		return "", err
	}
	return "Zabbix " + version, nil
}

type zabbixHost struct {
	HostID string `json:"hostid"`
	Host   string `json:"host"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

func (c *ZabbixClient) Hosts(ctx context.Context, search string) ([]Host, error) {
	params := map[string]any{
		"output":    []string{"hostid", "host", "name", "status"},
		"sortfield": "name",
	}
	if search != "" {
		params["search"] = map[string]string{"name": search}
		params["searchWildcardsEnabled"] = true
	}
	var raw []zabbixHost
	if err := c.rpc(ctx, "host.get", params, true, &raw); err != nil {
		return nil, err
	}
	hosts := make([]Host, 0, len(raw))
	for _, h := range raw {
		name := h.Name
		if name == "" {
			name = h.Host
		}
		hosts = append(hosts, Host{ID: h.HostID, Name: name, Enabled: h.Status == "0"})
	}
	return hosts, nil
}

// Item is one Zabbix item as seen by the interface pairing logic.
type Item struct {
	ItemID string `json:"itemid"`
	Key    string `json:"key_"`
	Name   string `json:"name"`
}

var (
	hcInRe    = regexp.MustCompile(`^net\.if\.in\[ifHCInOctets\.(\d+)\]$`)
	hcOutRe   = regexp.MustCompile(`^net\.if\.out\[ifHCOutOctets\.(\d+)\]$`)
	legacyRe  = regexp.MustCompile(`^net\.if\.(in|out)\[([^,\]]+)`)
	itemNameRe = regexp.MustCompile(`^Interface\s+(.+?):`)
)

// PairInterfaces matches in/out traffic items into interface options. An
// interface appears only when both directions exist. Modern ifHC keys pair by
// SNMP index; old-style net.if.in[eth0] keys pair by the first key argument.
func PairInterfaces(items []Item) []InterfaceOption {
	type half struct {
		key   string
		label string
	}
	ins := map[string]half{}
	outs := map[string]half{}
	for _, it := range items {
		label := ""
		if m := itemNameRe.FindStringSubmatch(it.Name); m != nil {
			label = strings.TrimSpace(m[1])
		}
		switch {
		case hcInRe.MatchString(it.Key):
			idx := hcInRe.FindStringSubmatch(it.Key)[1]
			ins[idx] = half{key: it.Key, label: label}
		case hcOutRe.MatchString(it.Key):
			idx := hcOutRe.FindStringSubmatch(it.Key)[1]
			outs[idx] = half{key: it.Key, label: label}
		default:
			if m := legacyRe.FindStringSubmatch(it.Key); m != nil {
				h := half{key: it.Key, label: label}
				if m[1] == "in" {
					ins["legacy:"+m[2]] = h
				} else {
					outs["legacy:"+m[2]] = h
				}
			}
		}
	}
	var opts []InterfaceOption
	for id, in := range ins {
		out, ok := outs[id]
		if !ok {
			continue
		}
		label := in.label
		if label == "" {
			label = out.label
		}
		if label == "" {
			label = strings.TrimPrefix(id, "legacy:")
		}
		opts = append(opts, InterfaceOption{
			InterfaceID: id,
			Label:       label,
			RxKey:       in.key,
			TxKey:       out.key,
		})
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Label < opts[j].Label })
	return opts
}

func (c *ZabbixClient) InterfaceOptions(ctx context.Context, hostID string) ([]InterfaceOption, error) {
	var items []Item
	err := c.rpc(ctx, "item.get", map[string]any{
		"output":  []string{"itemid", "key_", "name"},
		"hostids": hostID,
		"search":  map[string]string{"key_": "net.if."},
	}, true, &items)
	if err != nil {
		return nil, err
	}
	return PairInterfaces(items), nil
}

type zabbixValueItem struct {
	ItemID    string `json:"itemid"`
	Name      string `json:"name"`
	Key       string `json:"key_"`
	LastValue string `json:"lastvalue"`
	Units     string `json:"units"`
}

func (c *ZabbixClient) itemsByKey(ctx context.Context, hostID string, keys []string) (map[string]zabbixValueItem, error) {
	var items []zabbixValueItem
	err := c.rpc(ctx, "item.get", map[string]any{
		"output":  []string{"itemid", "name", "key_", "lastvalue", "units"},
		"hostids": hostID,
		"filter":  map[string]any{"key_": keys},
	}, true, &items)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]zabbixValueItem, len(items))
	for _, it := range items {
		byKey[it.Key] = it
	}
	return byKey, nil
}

func (c *ZabbixClient) ResolveCurrent(ctx context.Context, sel Selector) (CurrentValues, error) {
	byKey, err := c.itemsByKey(ctx, sel.HostID, []string{sel.InKey, sel.OutKey})
	if err != nil {
		return CurrentValues{}, err
	}
	in, okIn := byKey[sel.InKey]
	out, okOut := byKey[sel.OutKey]
	if !okIn || !okOut {
		return CurrentValues{}, upstream(fmt.Errorf("items %q/%q not found on host %s", sel.InKey, sel.OutKey, sel.HostID))
	}
	cv := CurrentValues{}
	cv.In, _ = strconv.ParseFloat(in.LastValue, 64)
	cv.Out, _ = strconv.ParseFloat(out.LastValue, 64)
	return cv, nil
}

type zabbixHistoryRow struct {
	Clock string `json:"clock"`
	Value string `json:"value"`
}

func (c *ZabbixClient) history(ctx context.Context, itemID string, since time.Time) ([]SeriesPoint, error) {
	var rows []zabbixHistoryRow
	err := c.rpc(ctx, "history.get", map[string]any{
		"output":    "extend",
		"history":   3, // numeric unsigned
		"itemids":   itemID,
		"time_from": since.Unix(),
		"sortfield": "clock",
		"sortorder": "ASC",
	}, true, &rows)
	if err != nil {
		return nil, err
	}
	points := make([]SeriesPoint, 0, len(rows))
	for _, r := range rows {
		ts, err := strconv.ParseInt(r.Clock, 10, 64)
		if err != nil {
			continue
		}
		v, _ := strconv.ParseFloat(r.Value, 64)
		points = append(points, SeriesPoint{Timestamp: ts, Value: v})
	}
	return points, nil
}

func (c *ZabbixClient) ResolveSeries(ctx context.Context, sel Selector, window time.Duration) (*BandwidthSeries, error) {
	byKey, err := c.itemsByKey(ctx, sel.HostID, []string{sel.InKey, sel.OutKey})
	if err != nil {
		return nil, err
	}
	in, okIn := byKey[sel.InKey]
	out, okOut := byKey[sel.OutKey]
	if !okIn || !okOut {
		return nil, upstream(fmt.Errorf("items %q/%q not found on host %s", sel.InKey, sel.OutKey, sel.HostID))
	}
	hosts, err := c.Hosts(ctx, "")
	hostName := sel.HostID
	if err == nil {
		for _, h := range hosts {
			if h.ID == sel.HostID {
				hostName = h.Name
				break
			}
		}
	}
	since := time.Now().Add(-window)
	series := func(it zabbixValueItem) (Series, error) {
		pts, err := c.history(ctx, it.ItemID, since)
		if err != nil {
			return Series{}, err
		}
		last, _ := strconv.ParseFloat(it.LastValue, 64)
		return Series{
			MetricID:    it.ItemID,
			DisplayName: it.Name,
			Units:       it.Units,
			LastValue:   last,
			Points:      pts,
		}, nil
	}
	bs := &BandwidthSeries{HostName: hostName}
	if bs.In, err = series(in); err != nil {
		return nil, err
	}
	if bs.Out, err = series(out); err != nil {
		return nil, err
	}
	return bs, nil
}
