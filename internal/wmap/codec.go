package wmap

import (
	"bufio"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// The config format is line-oriented: one directive per line, with NODE and
// LINK opening blocks that run until the next top-level NODE/LINK directive.
// Indentation is cosmetic. Directives the codec does not model are preserved
// verbatim so hand-edited configs survive a decode/encode cycle.

var (
	bandwidthRe  = regexp.MustCompile(`^(\d+\.?\d*)([KMGT]?)$`)
	rrdTargetRe  = regexp.MustCompile(`^(.*\.rrd):([-A-Za-z0-9_]+):([-A-Za-z0-9_]+)$`)
	titleLineRe  = regexp.MustCompile(`(?m)^TITLE\s+.*$`)
	blankRe      = regexp.MustCompile(`\s+`)
	indentPrefix = "    "
)

// ParseBandwidth parses a bandwidth config string like "100M" into bits per
// second. Suffixes scale by 1000 per step.
func ParseBandwidth(s string) (float64, bool) {
	m := bandwidthRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "K":
		v *= 1e3
	case "M":
		v *= 1e6
	case "G":
		v *= 1e9
	case "T":
		v *= 1e12
	}
	return v, true
}

// ValidBandwidth reports whether s is an acceptable bandwidth config string.
func ValidBandwidth(s string) bool {
	_, ok := ParseBandwidth(s)
	return ok
}

// ParseTarget interprets one whitespace-delimited target token.
func ParseTarget(raw string) Target {
	t := Target{Raw: raw, Metric: raw, InName: "traffic_in", OutName: "traffic_out"}
	if m := rrdTargetRe.FindStringSubmatch(raw); m != nil {
		t.Metric = strings.TrimSpace(m[1])
		t.InName = strings.TrimSpace(m[2])
		t.OutName = strings.TrimSpace(m[3])
	}
	return t
}

// Decode parses config text into a Document. It is deliberately tolerant:
// malformed directives are kept verbatim and noted in Warnings instead of
// aborting, because a hard failure here would make the map uneditable.
func Decode(text string) (*Document, error) {
	d := NewDocument()
	d.Width = 0
	d.Height = 0

	var curNode *Node
	var curLink *Link
	inBlock := false

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		raw := sc.Text()
		line := strings.TrimSpace(raw)
		fields := strings.Fields(line)
		keyword := ""
		if len(fields) > 0 {
			keyword = strings.ToUpper(fields[0])
		}

		switch keyword {
		case "NODE":
			curLink = nil
			inBlock = true
			name := ""
			if len(fields) > 1 {
				name = fields[1]
			}
			curNode = &Node{Name: name, Template: ""}
			if name == DefaultTemplate {
				d.NodeTemplates[name] = curNode
			} else {
				d.insertNode(curNode)
			}
			continue
		case "LINK":
			curNode = nil
			inBlock = true
			name := ""
			if len(fields) > 1 {
				name = fields[1]
			}
			curLink = &Link{Name: name, Template: ""}
			if name == DefaultTemplate {
				d.LinkTemplates[name] = curLink
			} else {
				d.insertLink(curLink)
			}
			continue
		}

		if !inBlock {
			d.decodeGlobal(keyword, fields, line, raw)
			continue
		}
		if curNode != nil {
			d.decodeNodeLine(curNode, keyword, fields, line, raw)
			continue
		}
		if curLink != nil {
			d.decodeLinkLine(curLink, keyword, fields, line, raw)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if d.Width <= 0 {
		d.Width = 800
	}
	if d.Height <= 0 {
		d.Height = 600
	}
	d.assignMissingIDs()
	return d, nil
}

func (d *Document) decodeGlobal(keyword string, fields []string, line, raw string) {
	switch keyword {
	case "":
		// Blank lines are cosmetic; Encode lays out its own spacing.
	case "WIDTH":
		if n, ok := atoiField(fields, 1); ok {
			d.Width = n
			return
		}
		d.keepGlobal(raw, line)
	case "HEIGHT":
		if n, ok := atoiField(fields, 1); ok {
			d.Height = n
			return
		}
		d.keepGlobal(raw, line)
	case "TITLE":
		d.Title = restAfter(line, 1)
	case "BACKGROUND":
		d.Background = restAfter(line, 1)
	case "TIMEPOS":
		x, okX := atoiField(fields, 1)
		y, okY := atoiField(fields, 2)
		if okX && okY {
			d.Stamp = &Stamp{X: x, Y: y, Text: restAfter(line, 3)}
			return
		}
		d.keepGlobal(raw, line)
	case "KEYPOS":
		if len(fields) >= 4 {
			x, okX := strconv.Atoi(fields[2])
			y, okY := strconv.Atoi(fields[3])
			if okX == nil && okY == nil {
				d.KeyPos[fields[1]] = Point{X: x, Y: y}
				if text := restAfter(line, 4); text != "" {
					d.KeyText[fields[1]] = text
				}
				return
			}
		}
		d.keepGlobal(raw, line)
	case "SET":
		if len(fields) == 3 && strings.EqualFold(fields[1], "nextid") {
			if n, err := strconv.Atoi(fields[2]); err == nil && n > 0 {
				d.NextID = n
				return
			}
		}
		d.GlobalExtra = append(d.GlobalExtra, raw)
	default:
		d.GlobalExtra = append(d.GlobalExtra, raw)
	}
}

func (d *Document) keepGlobal(raw, line string) {
	d.GlobalExtra = append(d.GlobalExtra, raw)
	d.Warnings = append(d.Warnings, "unparsed directive: "+line)
}

func (d *Document) decodeNodeLine(n *Node, keyword string, fields []string, line, raw string) {
	switch keyword {
	case "":
	case "POSITION":
		x, okX := atoiField(fields, 1)
		y, okY := atoiField(fields, 2)
		if okX && okY {
			n.X, n.Y, n.HasPos = x, y, true
			return
		}
		n.Extra = append(n.Extra, raw)
		d.Warnings = append(d.Warnings, "node "+n.Name+": bad POSITION")
	case "LABEL":
		v := restAfter(line, 1)
		n.Label = &v
	case "ICON":
		v := restAfter(line, 1)
		n.Icon = &v
	case "INFOURL":
		v := restAfter(line, 1)
		n.InfoURL = &v
	case "OVERLIBURL":
		n.Hover = fields[1:]
	case "ZORDER":
		if z, ok := atoiField(fields, 1); ok {
			n.ZOrder = &z
			return
		}
		n.Extra = append(n.Extra, raw)
	case "TEMPLATE":
		n.Template = restAfter(line, 1)
	case "SET":
		if len(fields) == 3 && strings.EqualFold(fields[1], "id") {
			if id, err := strconv.Atoi(fields[2]); err == nil {
				n.ID = id
				return
			}
		}
		n.Extra = append(n.Extra, raw)
	default:
		n.Extra = append(n.Extra, raw)
	}
}

func (d *Document) decodeLinkLine(l *Link, keyword string, fields []string, line, raw string) {
	switch keyword {
	case "":
	case "NODES":
		if len(fields) >= 3 {
			l.NodeA, l.AOffset = parseEndpoint(fields[1])
			l.NodeB, l.BOffset = parseEndpoint(fields[2])
			return
		}
		l.Extra = append(l.Extra, raw)
		d.Warnings = append(d.Warnings, "link "+l.Name+": bad NODES")
	case "WIDTH":
		if len(fields) >= 2 {
			if w, err := strconv.ParseFloat(fields[1], 64); err == nil {
				l.Width = &w
				return
			}
		}
		l.Extra = append(l.Extra, raw)
	case "BANDWIDTH":
		in := ""
		out := ""
		if len(fields) >= 2 {
			in = fields[1]
			out = in
		}
		if len(fields) >= 3 {
			out = fields[2]
		}
		if v, ok := ParseBandwidth(in); ok {
			l.BandwidthInCfg = in
			l.BandwidthIn = v
		}
		if v, ok := ParseBandwidth(out); ok {
			l.BandwidthOutCfg = out
			l.BandwidthOut = v
		}
	case "TARGET":
		for _, tok := range fields[1:] {
			l.Targets = append(l.Targets, ParseTarget(tok))
		}
	case "VIA":
		x, okX := atoiField(fields, 1)
		y, okY := atoiField(fields, 2)
		if okX && okY {
			l.Via = append(l.Via, Point{X: x, Y: y})
			return
		}
		l.Extra = append(l.Extra, raw)
	case "INCOMMENT":
		v := restAfter(line, 1)
		l.CommentIn = &v
	case "OUTCOMMENT":
		v := restAfter(line, 1)
		l.CommentOut = &v
	case "INFOURL":
		v := restAfter(line, 1)
		l.InfoURLIn = &v
		w := v
		l.InfoURLOut = &w
	case "ININFOURL":
		v := restAfter(line, 1)
		l.InfoURLIn = &v
	case "OUTINFOURL":
		v := restAfter(line, 1)
		l.InfoURLOut = &v
	case "OVERLIBURL":
		l.HoverIn = fields[1:]
		l.HoverOut = append([]string(nil), fields[1:]...)
	case "INOVERLIBURL":
		l.HoverIn = fields[1:]
	case "OUTOVERLIBURL":
		l.HoverOut = fields[1:]
	case "ZORDER":
		if z, ok := atoiField(fields, 1); ok {
			l.ZOrder = &z
			return
		}
		l.Extra = append(l.Extra, raw)
	case "TEMPLATE":
		l.Template = restAfter(line, 1)
	case "SET":
		if len(fields) >= 3 {
			switch strings.ToLower(fields[1]) {
			case "id":
				if id, err := strconv.Atoi(fields[2]); err == nil {
					l.ID = id
					return
				}
			case "datasource":
				l.Selector = restAfter(line, 2)
				return
			case "tidied":
				l.Tidied = fields[2] != "0"
				return
			}
		}
		l.Extra = append(l.Extra, raw)
	default:
		l.Extra = append(l.Extra, raw)
	}
}

// assignMissingIDs gives identity to nodes/links from configs that predate ID
// persistence, and keeps the counter beyond every ID already in use.
func (d *Document) assignMissingIDs() {
	maxID := 0
	for _, n := range d.Nodes() {
		if n.ID > maxID {
			maxID = n.ID
		}
	}
	for _, l := range d.Links() {
		if l.ID > maxID {
			maxID = l.ID
		}
	}
	if d.NextID <= maxID {
		d.NextID = maxID + 1
	}
	for _, n := range d.Nodes() {
		if n.ID == 0 {
			n.ID = d.takeID()
		}
	}
	for _, l := range d.Links() {
		if l.ID == 0 {
			l.ID = d.takeID()
		}
	}
}

func parseEndpoint(tok string) (string, Offset) {
	parts := strings.Split(tok, ":")
	if len(parts) == 3 {
		dx, errX := strconv.Atoi(parts[1])
		dy, errY := strconv.Atoi(parts[2])
		if errX == nil && errY == nil {
			return parts[0], Offset{DX: dx, DY: dy}
		}
	}
	return tok, Offset{}
}

// Encode serializes a Document back to config text. Modeled directives are
// written canonically; unmodeled ones come back verbatim.
func Encode(d *Document) string {
	var b strings.Builder

	if d.Width > 0 {
		fmt.Fprintf(&b, "WIDTH %d\n", d.Width)
	}
	if d.Height > 0 {
		fmt.Fprintf(&b, "HEIGHT %d\n", d.Height)
	}
	if d.Title != "" {
		fmt.Fprintf(&b, "TITLE %s\n", d.Title)
	}
	if d.Background != "" {
		fmt.Fprintf(&b, "BACKGROUND %s\n", d.Background)
	}
	if d.Stamp != nil {
		fmt.Fprintf(&b, "TIMEPOS %d %d", d.Stamp.X, d.Stamp.Y)
		if d.Stamp.Text != "" {
			b.WriteString(" " + d.Stamp.Text)
		}
		b.WriteString("\n")
	}
	for _, name := range sortedKeys(d.KeyPos) {
		p := d.KeyPos[name]
		fmt.Fprintf(&b, "KEYPOS %s %d %d", name, p.X, p.Y)
		if text := d.KeyText[name]; text != "" {
			b.WriteString(" " + text)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "SET nextid %d\n", d.NextID)

	for _, raw := range d.GlobalExtra {
		b.WriteString(raw + "\n")
	}

	if tpl, ok := d.NodeTemplates[DefaultTemplate]; ok {
		b.WriteString("\n")
		encodeNode(&b, tpl, true)
	}
	if tpl, ok := d.LinkTemplates[DefaultTemplate]; ok {
		b.WriteString("\n")
		encodeLink(&b, tpl, true)
	}

	for _, n := range d.Nodes() {
		b.WriteString("\n")
		encodeNode(&b, n, false)
	}
	for _, l := range d.Links() {
		b.WriteString("\n")
		encodeLink(&b, l, false)
	}

	return b.String()
}

func encodeNode(b *strings.Builder, n *Node, template bool) {
	fmt.Fprintf(b, "NODE %s\n", n.Name)
	if n.Template != "" && n.Template != DefaultTemplate {
		writeDirective(b, "TEMPLATE", n.Template)
	}
	if n.Label != nil {
		writeDirective(b, "LABEL", *n.Label)
	}
	if n.Icon != nil {
		writeDirective(b, "ICON", *n.Icon)
	}
	if n.HasPos {
		writeDirective(b, "POSITION", fmt.Sprintf("%d %d", n.X, n.Y))
	}
	if n.InfoURL != nil {
		writeDirective(b, "INFOURL", *n.InfoURL)
	}
	if len(n.Hover) > 0 {
		writeDirective(b, "OVERLIBURL", strings.Join(n.Hover, " "))
	}
	if n.ZOrder != nil {
		writeDirective(b, "ZORDER", strconv.Itoa(*n.ZOrder))
	}
	if !template {
		writeDirective(b, "SET", fmt.Sprintf("id %d", n.ID))
	}
	for _, raw := range n.Extra {
		b.WriteString(raw + "\n")
	}
}

func encodeLink(b *strings.Builder, l *Link, template bool) {
	fmt.Fprintf(b, "LINK %s\n", l.Name)
	if l.Template != "" && l.Template != DefaultTemplate {
		writeDirective(b, "TEMPLATE", l.Template)
	}
	if !template {
		writeDirective(b, "NODES", endpointToken(l.NodeA, l.AOffset)+" "+endpointToken(l.NodeB, l.BOffset))
	}
	if l.Width != nil {
		writeDirective(b, "WIDTH", strconv.FormatFloat(*l.Width, 'f', -1, 64))
	}
	if l.BandwidthInCfg != "" {
		v := l.BandwidthInCfg
		if l.BandwidthOutCfg != "" && l.BandwidthOutCfg != l.BandwidthInCfg {
			v += " " + l.BandwidthOutCfg
		}
		writeDirective(b, "BANDWIDTH", v)
	}
	if len(l.Targets) > 0 {
		toks := make([]string, 0, len(l.Targets))
		for _, t := range l.Targets {
			toks = append(toks, t.Raw)
		}
		writeDirective(b, "TARGET", strings.Join(toks, " "))
	}
	for _, v := range l.Via {
		writeDirective(b, "VIA", fmt.Sprintf("%d %d", v.X, v.Y))
	}
	if l.CommentIn != nil {
		writeDirective(b, "INCOMMENT", *l.CommentIn)
	}
	if l.CommentOut != nil {
		writeDirective(b, "OUTCOMMENT", *l.CommentOut)
	}
	encodeInOut(b, "INFOURL", l.InfoURLIn, l.InfoURLOut)
	encodeHover(b, l.HoverIn, l.HoverOut)
	if l.ZOrder != nil {
		writeDirective(b, "ZORDER", strconv.Itoa(*l.ZOrder))
	}
	if !template {
		writeDirective(b, "SET", fmt.Sprintf("id %d", l.ID))
	}
	if l.Selector != "" {
		writeDirective(b, "SET", "datasource "+l.Selector)
	}
	if l.Tidied {
		writeDirective(b, "SET", "tidied 1")
	}
	for _, raw := range l.Extra {
		b.WriteString(raw + "\n")
	}
}

func encodeInOut(b *strings.Builder, keyword string, in, out *string) {
	if in != nil && out != nil && *in == *out {
		writeDirective(b, keyword, *in)
		return
	}
	if in != nil {
		writeDirective(b, "IN"+keyword, *in)
	}
	if out != nil {
		writeDirective(b, "OUT"+keyword, *out)
	}
}

func encodeHover(b *strings.Builder, in, out []string) {
	if len(in) > 0 && strings.Join(in, " ") == strings.Join(out, " ") {
		writeDirective(b, "OVERLIBURL", strings.Join(in, " "))
		return
	}
	if len(in) > 0 {
		writeDirective(b, "INOVERLIBURL", strings.Join(in, " "))
	}
	if len(out) > 0 {
		writeDirective(b, "OUTOVERLIBURL", strings.Join(out, " "))
	}
}

func writeDirective(b *strings.Builder, keyword, rest string) {
	b.WriteString(indentPrefix + keyword)
	if rest != "" {
		b.WriteString(" " + rest)
	}
	b.WriteString("\n")
}

func endpointToken(name string, off Offset) string {
	if off.DX != 0 || off.DY != 0 {
		return fmt.Sprintf("%s:%d:%d", name, off.DX, off.DY)
	}
	return name
}

func atoiField(fields []string, i int) (int, bool) {
	if i >= len(fields) {
		return 0, false
	}
	n, err := strconv.Atoi(fields[i])
	if err != nil {
		return 0, false
	}
	return n, true
}

// restAfter returns everything after the first n whitespace-separated fields,
// preserving internal spacing of the remainder.
func restAfter(line string, n int) string {
	rest := strings.TrimSpace(line)
	for i := 0; i < n; i++ {
		idx := strings.IndexFunc(rest, isSpace)
		if idx < 0 {
			return ""
		}
		rest = strings.TrimLeftFunc(rest[idx:], isSpace)
	}
	return rest
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' }

func sortedKeys(m map[string]Point) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RewriteTitle replaces the TITLE line of raw config text, used when a map is
// duplicated without a full decode.
func RewriteTitle(config, title string) string {
	if titleLineRe.MatchString(config) {
		return titleLineRe.ReplaceAllString(config, "TITLE "+title)
	}
	return "TITLE " + title + "\n" + config
}

// DefaultConfig emits the skeleton written for a newly created map.
func DefaultConfig(title string, width, height int, now time.Time) string {
	if width <= 0 {
		width = 800
	}
	if height <= 0 {
		height = 600
	}
	title = blankRe.ReplaceAllString(strings.TrimSpace(title), " ")
	if title == "" {
		title = "New Map"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Weathermap configuration\n# Generated: %s\n\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "WIDTH %d\nHEIGHT %d\nTITLE %s\n\n", width, height, title)
	b.WriteString("BGCOLOR 255 255 255\n\n")
	b.WriteString("FONTDEFINE 1 /usr/share/fonts/truetype/dejavu/DejaVuSans.ttf 8\n")
	b.WriteString("FONTDEFINE 2 /usr/share/fonts/truetype/dejavu/DejaVuSans.ttf 10\n")
	b.WriteString("FONTDEFINE 3 /usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf 12\n\n")
	b.WriteString("TITLEFONT 3\nTIMEFONT 2\nKEYFONT 1\n\n")
	fmt.Fprintf(&b, "TIMEPOS 10 %d Created: %%b %%d %%Y %%H:%%M:%%S\n\n", height)
	b.WriteString("SCALE DEFAULT 0 0     192 192 192\n")
	b.WriteString("SCALE DEFAULT 0 1     255 255 255\n")
	b.WriteString("SCALE DEFAULT 1 10    140 0 255\n")
	b.WriteString("SCALE DEFAULT 10 25   32 32 255\n")
	b.WriteString("SCALE DEFAULT 25 40   0 192 255\n")
	b.WriteString("SCALE DEFAULT 40 55   0 240 0\n")
	b.WriteString("SCALE DEFAULT 55 70   240 240 0\n")
	b.WriteString("SCALE DEFAULT 70 85   255 192 0\n")
	b.WriteString("SCALE DEFAULT 85 100  255 0 0\n\n")
	b.WriteString("KEYPOS DEFAULT 10 10\n\n")
	b.WriteString("NODE DEFAULT\n    MAXVALUE 100\n\n")
	b.WriteString("LINK DEFAULT\n    BANDWIDTH 100M\n    BWLABEL bits\n    BWLABELPOS 50 50\n    WIDTH 4\n")
	return b.String()
}
