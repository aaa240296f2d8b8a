package datasource

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseSelectorRoundTrip(t *testing.T) {
	sel, err := ParseSelector("3|10084|net.if.in[ifHCInOctets.2]|net.if.out[ifHCOutOctets.2]")
	if err != nil {
		t.Fatalf("ParseSelector: %v", err)
	}
	if sel.SourceID != 3 || sel.HostID != "10084" {
		t.Fatalf("unexpected selector %+v", sel)
	}
	if sel.InKey != "net.if.in[ifHCInOctets.2]" || sel.OutKey != "net.if.out[ifHCOutOctets.2]" {
		t.Fatalf("unexpected keys %+v", sel)
	}
	if got := sel.String(); got != "3|10084|net.if.in[ifHCInOctets.2]|net.if.out[ifHCOutOctets.2]" {
		t.Fatalf("String() = %q", got)
	}
}

func TestParseSelectorRejects(t *testing.T) {
	bad := []string{
		"",
		"1|2|3",
		"x|host|in|out",
		"0|host|in|out",
		"1||in|out",
		"1|host||out",
		"1|host|in|",
	}
	for _, s := range bad {
		if _, err := ParseSelector(s); !errors.Is(err, ErrBadSelector) {
			t.Fatalf("ParseSelector(%q) err = %v, want ErrBadSelector", s, err)
		}
	}
}

func TestPairInterfacesModernKeys(t *testing.T) {
	items := []Item{
		{ItemID: "1", Key: "net.if.in[ifHCInOctets.2]", Name: "Interface eth0: Bits received"},
		{ItemID: "2", Key: "net.if.out[ifHCOutOctets.2]", Name: "Interface eth0: Bits sent"},
		{ItemID: "3", Key: "net.if.in[ifHCInOctets.3]", Name: "Interface eth1: Bits received"},
		// eth1 has no out item so it must not appear.
	}
	opts := PairInterfaces(items)
	if len(opts) != 1 {
		t.Fatalf("got %d options, want 1: %+v", len(opts), opts)
	}
	o := opts[0]
	if o.Label != "eth0" {
		t.Fatalf("label = %q", o.Label)
	}
	if o.RxKey != "net.if.in[ifHCInOctets.2]" || o.TxKey != "net.if.out[ifHCOutOctets.2]" {
		t.Fatalf("keys = %q / %q", o.RxKey, o.TxKey)
	}
}

func TestPairInterfacesLegacyKeys(t *testing.T) {
	items := []Item{
		{ItemID: "1", Key: "net.if.in[eth0]", Name: ""},
		{ItemID: "2", Key: "net.if.out[eth0]", Name: ""},
	}
	opts := PairInterfaces(items)
	if len(opts) != 1 {
		t.Fatalf("got %d options, want 1", len(opts))
	}
	if opts[0].Label != "eth0" {
		t.Fatalf("label = %q", opts[0].Label)
	}
}

func TestPairInterfacesSorted(t *testing.T) {
	items := []Item{
		{Key: "net.if.in[ifHCInOctets.9]", Name: "Interface zz9: in"},
		{Key: "net.if.out[ifHCOutOctets.9]", Name: "Interface zz9: out"},
		{Key: "net.if.in[ifHCInOctets.1]", Name: "Interface aa1: in"},
		{Key: "net.if.out[ifHCOutOctets.1]", Name: "Interface aa1: out"},
	}
	opts := PairInterfaces(items)
	if len(opts) != 2 || opts[0].Label != "aa1" || opts[1].Label != "zz9" {
		t.Fatalf("unexpected order: %+v", opts)
	}
}

func TestStaticClient(t *testing.T) {
	c := NewStaticClient(map[string]string{
		"core1:eth0": "1000000:2000000",
		"core1:eth1": "3:4",
		"edge2:ge0":  "5:6",
		"broken":     "nope",
	})
	ctx := context.Background()

	hosts, err := c.Hosts(ctx, "")
	if err != nil {
		t.Fatalf("Hosts: %v", err)
	}
	if len(hosts) != 2 || hosts[0].ID != "core1" || hosts[1].ID != "edge2" {
		t.Fatalf("hosts = %+v", hosts)
	}

	opts, err := c.InterfaceOptions(ctx, "core1")
	if err != nil {
		t.Fatalf("InterfaceOptions: %v", err)
	}
	if len(opts) != 2 {
		t.Fatalf("options = %+v", opts)
	}

	sel := Selector{SourceID: 1, HostID: "core1", InKey: "core1:eth0:in", OutKey: "core1:eth0:out"}
	cv, err := c.ResolveCurrent(ctx, sel)
	if err != nil {
		t.Fatalf("ResolveCurrent: %v", err)
	}
	if cv.In != 1000000 || cv.Out != 2000000 {
		t.Fatalf("values = %+v", cv)
	}

	sel.InKey = "core1:missing:in"
	if _, err := c.ResolveCurrent(ctx, sel); !errors.Is(err, ErrUpstream) {
		t.Fatalf("missing metric err = %v, want ErrUpstream", err)
	}
}

type countingClient struct {
	StaticClient
	calls int
}

func (c *countingClient) ResolveCurrent(ctx context.Context, sel Selector) (CurrentValues, error) {
	c.calls++
	return CurrentValues{In: float64(c.calls), Out: 0}, nil
}

func (c *countingClient) Hosts(ctx context.Context, search string) ([]Host, error) {
	c.calls++
	return []Host{{ID: "h", Name: "h"}}, nil
}

func TestCachedClientReusesWithinTTL(t *testing.T) {
	inner := &countingClient{}
	c := NewCachedClient(inner, time.Minute)
	ctx := context.Background()
	sel := Selector{SourceID: 1, HostID: "h", InKey: "i", OutKey: "o"}

	first, err := c.ResolveCurrent(ctx, sel)
	if err != nil {
		t.Fatalf("ResolveCurrent: %v", err)
	}
	second, err := c.ResolveCurrent(ctx, sel)
	if err != nil {
		t.Fatalf("ResolveCurrent: %v", err)
	}
	if first.In != second.In {
		t.Fatalf("cached value changed: %v vs %v", first.In, second.In)
	}
	if inner.calls != 1 {
		t.Fatalf("inner called %d times, want 1", inner.calls)
	}
}

func TestCachedClientExpires(t *testing.T) {
	inner := &countingClient{}
	c := NewCachedClient(inner, 50*time.Millisecond)
	now := time.Now()
	c.cache.now = func() time.Time { return now }
	ctx := context.Background()
	sel := Selector{SourceID: 1, HostID: "h", InKey: "i", OutKey: "o"}

	if _, err := c.ResolveCurrent(ctx, sel); err != nil {
		t.Fatalf("ResolveCurrent: %v", err)
	}
	now = now.Add(time.Second)
	if _, err := c.ResolveCurrent(ctx, sel); err != nil {
		t.Fatalf("ResolveCurrent: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("inner called %d times, want 2", inner.calls)
	}
}

func TestNewClientTypes(t *testing.T) {
	cases := []struct {
		typ     string
		wantErr bool
	}{
		{"zabbix", false},
		{"", false},
		{"snmp", false},
		{"static", false},
		{"graphite", true},
	}
	for _, tc := range cases {
		_, err := NewClient(SourceConfig{ID: 1, Type: tc.typ, URL: "http://example.test"})
		if tc.wantErr != (err != nil) {
			t.Fatalf("NewClient(type=%q) err = %v", tc.typ, err)
		}
	}
}
