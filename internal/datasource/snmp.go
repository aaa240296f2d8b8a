package datasource

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"
)

// SNMPConfig configures the direct SNMP bandwidth source. A source of this
// type polls interface counters itself instead of asking a monitoring server.
type SNMPConfig struct {
	Address        string
	Community      string
	Version        string // "2c" (default) | "1"
	Port           uint16
	Timeout        time.Duration
	Retries        int
	MaxRepetitions uint32
	// Resolver is a "host:port" DNS server used to resolve Address with a
	// bounded timeout. Empty means use Address as given.
	Resolver string
}

// SNMPConfigFromSettings builds an SNMPConfig from a source record's
// free-form settings map.
func SNMPConfigFromSettings(address string, settings map[string]string) SNMPConfig {
	cfg := SNMPConfig{Address: address}
	if settings == nil {
		return cfg
	}
	cfg.Community = settings["community"]
	cfg.Version = settings["version"]
	cfg.Resolver = settings["resolver"]
	if p, err := strconv.ParseUint(settings["port"], 10, 16); err == nil {
		cfg.Port = uint16(p)
	}
	if r, err := strconv.Atoi(settings["retries"]); err == nil {
		cfg.Retries = r
	}
	if ms, err := strconv.Atoi(settings["timeout_ms"]); err == nil {
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	return cfg
}

type SNMPClient struct {
	cfg SNMPConfig
}

func NewSNMPClient(cfg SNMPConfig) *SNMPClient {
	if strings.TrimSpace(cfg.Community) == "" {
		cfg.Community = "public"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "2c"
	}
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.MaxRepetitions == 0 {
		cfg.MaxRepetitions = 10
	}
	return &SNMPClient{cfg: cfg}
}

const (
	oidSysDescr0 = "1.3.6.1.2.1.1.1.0"
	oidSysName0  = "1.3.6.1.2.1.1.5.0"

	oidIfName  = "1.3.6.1.2.1.31.1.1.1.1"
	oidIfAlias = "1.3.6.1.2.1.31.1.1.1.18"

	oidIfHCInOctets  = "1.3.6.1.2.1.31.1.1.1.6"
	oidIfHCOutOctets = "1.3.6.1.2.1.31.1.1.1.10"
)

// resolveAddress resolves a hostname through the configured resolver with a
// hard deadline. Failures fall back to the address as given so the SNMP
// layer can still try the OS resolver.
func (c *SNMPClient) resolveAddress(ctx context.Context, addr string) string {
	if c.cfg.Resolver == "" || net.ParseIP(addr) != nil {
		return addr
	}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(addr), dns.TypeA)
	client := &dns.Client{Timeout: c.cfg.Timeout}
	resp, _, err := client.ExchangeContext(ctx, m, c.cfg.Resolver)
	if err != nil || resp == nil {
		return addr
	}
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String()
		}
	}
	return addr
}

func (c *SNMPClient) connect(ctx context.Context) (*gosnmp.GoSNMP, error) {
	version := strings.ToLower(strings.TrimSpace(c.cfg.Version))
	var snmpVersion gosnmp.SnmpVersion
	switch version {
	case "2c", "v2c", "":
		snmpVersion = gosnmp.Version2c
	case "1", "v1":
		snmpVersion = gosnmp.Version1
	default:
		return nil, fmt.Errorf("unsupported snmp version %q", c.cfg.Version)
	}

	s := &gosnmp.GoSNMP{
		Target:         c.resolveAddress(ctx, c.cfg.Address),
		Port:           c.cfg.Port,
		Community:      c.cfg.Community,
		Version:        snmpVersion,
		Timeout:        c.cfg.Timeout,
		Retries:        c.cfg.Retries,
		MaxRepetitions: c.cfg.MaxRepetitions,
	}
	if err := s.Connect(); err != nil {
		return nil, upstream(err)
	}
	return s, nil
}

func pduString(pdu gosnmp.SnmpPDU) (string, bool) {
	switch v := pdu.Value.(type) {
	case string:
		return strings.TrimSpace(v), true
	case []byte:
		return strings.TrimSpace(string(v)), true
	default:
		return "", false
	}
}

func pduUint64(pdu gosnmp.SnmpPDU) (uint64, bool) {
	switch v := pdu.Value.(type) {
	case int:
		return uint64(v), true
	case int32:
		return uint64(v), true
	case int64:
		return uint64(v), true
	case uint:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	default:
		return 0, false
	}
}

func lastOIDIndex(oid string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(oid), ".")
	if len(parts) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c *SNMPClient) TestConnection(ctx context.Context) (string, error) {
	s, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer s.Conn.Close()

	pkt, err := s.Get([]string{oidSysName0, oidSysDescr0})
	if err != nil {
		return "", upstream(err)
	}
	name, descr := "", ""
	for _, v := range pkt.Variables {
		switch v.Name {
		case oidSysName0, "." + oidSysName0:
			name, _ = pduString(v)
		case oidSysDescr0, "." + oidSysDescr0:
			descr, _ = pduString(v)
		}
	}
	if name == "" {
		name = c.cfg.Address
	}
	if descr != "" {
		return name + " (" + descr + ")", nil
	}
	return name, nil
}

// Hosts returns the single device this source points at. SNMP sources are
// one-device sources; the address doubles as the host ID.
func (c *SNMPClient) Hosts(ctx context.Context, search string) ([]Host, error) {
	if search != "" && !strings.Contains(strings.ToLower(c.cfg.Address), strings.ToLower(search)) {
		return nil, nil
	}
	name, err := c.TestConnection(ctx)
	if err != nil {
		return nil, err
	}
	return []Host{{ID: c.cfg.Address, Name: name, Enabled: true}}, nil
}

func (c *SNMPClient) walkStrings(s *gosnmp.GoSNMP, baseOID string) (map[int]string, error) {
	pdus, err := s.BulkWalkAll(baseOID)
	if err != nil {
		return nil, upstream(err)
	}
	out := make(map[int]string, len(pdus))
	for _, p := range pdus {
		idx, ok := lastOIDIndex(p.Name)
		if !ok {
			continue
		}
		if v, ok := pduString(p); ok {
			out[idx] = v
		}
	}
	return out, nil
}

func (c *SNMPClient) walkCounters(s *gosnmp.GoSNMP, baseOID string) (map[int]uint64, error) {
	pdus, err := s.BulkWalkAll(baseOID)
	if err != nil {
		return nil, upstream(err)
	}
	out := make(map[int]uint64, len(pdus))
	for _, p := range pdus {
		idx, ok := lastOIDIndex(p.Name)
		if !ok {
			continue
		}
		if v, ok := pduUint64(p); ok {
			out[idx] = v
		}
	}
	return out, nil
}

func (c *SNMPClient) InterfaceOptions(ctx context.Context, hostID string) ([]InterfaceOption, error) {
	s, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Conn.Close()

	names, err := c.walkStrings(s, oidIfName)
	if err != nil {
		return nil, err
	}
	aliases, _ := c.walkStrings(s, oidIfAlias)
	ins, err := c.walkCounters(s, oidIfHCInOctets)
	if err != nil {
		return nil, err
	}
	outs, err := c.walkCounters(s, oidIfHCOutOctets)
	if err != nil {
		return nil, err
	}

	var opts []InterfaceOption
	for idx := range ins {
		if _, ok := outs[idx]; !ok {
			continue
		}
		label := names[idx]
		if label == "" {
			label = fmt.Sprintf("ifIndex %d", idx)
		}
		if alias := aliases[idx]; alias != "" {
			label += " (" + alias + ")"
		}
		opts = append(opts, InterfaceOption{
			InterfaceID: strconv.Itoa(idx),
			Label:       label,
			RxKey:       fmt.Sprintf("ifHCInOctets.%d", idx),
			TxKey:       fmt.Sprintf("ifHCOutOctets.%d", idx),
		})
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Label < opts[j].Label })
	return opts, nil
}

func counterOID(key string) (string, error) {
	name, idx, ok := strings.Cut(key, ".")
	if !ok {
		return "", fmt.Errorf("bad counter key %q", key)
	}
	if _, err := strconv.Atoi(idx); err != nil {
		return "", fmt.Errorf("bad counter key %q", key)
	}
	switch name {
	case "ifHCInOctets":
		return oidIfHCInOctets + "." + idx, nil
	case "ifHCOutOctets":
		return oidIfHCOutOctets + "." + idx, nil
	default:
		return "", fmt.Errorf("bad counter key %q", key)
	}
}

// ResolveCurrent reads the raw ifHC octet counters. Values are cumulative
// counters, not rates; consumers only compare successive polls.
func (c *SNMPClient) ResolveCurrent(ctx context.Context, sel Selector) (CurrentValues, error) {
	inOID, err := counterOID(sel.InKey)
	if err != nil {
		return CurrentValues{}, upstream(err)
	}
	outOID, err := counterOID(sel.OutKey)
	if err != nil {
		return CurrentValues{}, upstream(err)
	}
	s, err := c.connect(ctx)
	if err != nil {
		return CurrentValues{}, err
	}
	defer s.Conn.Close()

	pkt, err := s.Get([]string{inOID, outOID})
	if err != nil {
		return CurrentValues{}, upstream(err)
	}
	var cv CurrentValues
	for _, v := range pkt.Variables {
		n, ok := pduUint64(v)
		if !ok {
			continue
		}
		oid := strings.TrimPrefix(v.Name, ".")
		switch oid {
		case inOID:
			cv.In = float64(n)
		case outOID:
			cv.Out = float64(n)
		}
	}
	return cv, nil
}

// ResolveSeries returns a single-point series. SNMP sources have no history
// store; the preview chart degrades to showing the latest sample.
func (c *SNMPClient) ResolveSeries(ctx context.Context, sel Selector, window time.Duration) (*BandwidthSeries, error) {
	cv, err := c.ResolveCurrent(ctx, sel)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	return &BandwidthSeries{
		HostName: c.cfg.Address,
		In: Series{
			MetricID:    sel.InKey,
			DisplayName: sel.InKey,
			Units:       "octets",
			LastValue:   cv.In,
			Points:      []SeriesPoint{{Timestamp: now, Value: cv.In}},
		},
		Out: Series{
			MetricID:    sel.OutKey,
			DisplayName: sel.OutKey,
			Units:       "octets",
			LastValue:   cv.Out,
			Points:      []SeriesPoint{{Timestamp: now, Value: cv.Out}},
		},
	}, nil
}
