// Package targets expands scan target specifications (CIDR, range,
// hostname, exclude file) into a lazy iterator of concrete addresses,
// with DNS resolution and exclude-list filtering.
package targets

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/doublegate/prort-ip/internal/errors"
)

// Spec describes one target expression as given on the command line or in
// a targets file: a CIDR block, a dash range ("10.0.0.1-10.0.0.5"), a bare
// IP, or a hostname requiring DNS resolution.
type Spec struct {
	Raw string
}

// Resolver resolves a hostname to its A/AAAA records. Production code uses
// DNSResolver (backed by miekg/dns); tests can substitute a fake.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

// DNSResolver is the default Resolver, issuing A and AAAA queries against
// server (e.g. "1.1.1.1:53").
type DNSResolver struct {
	Server string
	Client *dns.Client
}

// NewDNSResolver constructs a DNSResolver with a 2-second UDP timeout.
func NewDNSResolver(server string) *DNSResolver {
	return &DNSResolver{Server: server, Client: new(dns.Client)}
}

func (r *DNSResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	var ips []net.IP
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		resp, _, err := r.Client.ExchangeContext(ctx, msg, r.Server)
		if err != nil {
			continue
		}
		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				ips = append(ips, rec.A)
			case *dns.AAAA:
				ips = append(ips, rec.AAAA)
			}
		}
	}
	if len(ips) == 0 {
		return nil, errors.NewScanError(errors.CodeValidation, fmt.Sprintf("no A/AAAA records for %q", host))
	}
	return ips, nil
}

// Iterator lazily yields every address matched by a set of Specs, in
// order, skipping anything in the exclude set.
type Iterator struct {
	specs    []Spec
	exclude  map[string]bool
	resolver Resolver

	specIdx int
	cur     walker
}

// walker advances through one expanded Spec one address at a time,
// returning nil once exhausted.
type walker interface {
	advance() net.IP
	isDone() bool
}

// cidrWalk tracks iteration state over one CIDR or range expansion.
type cidrWalk struct {
	next net.IP
	last net.IP
	done bool
}

func (w *cidrWalk) isDone() bool { return w.done }

// NewIterator builds an Iterator over specs, resolving hostnames with
// resolver and skipping addresses whose string form is present in
// exclude.
func NewIterator(specs []Spec, exclude map[string]bool, resolver Resolver) *Iterator {
	if exclude == nil {
		exclude = make(map[string]bool)
	}
	if resolver == nil {
		resolver = NewDNSResolver("1.1.1.1:53")
	}
	return &Iterator{specs: specs, exclude: exclude, resolver: resolver}
}

// Next returns the next target address, or ok=false once every spec has
// been exhausted.
func (it *Iterator) Next(ctx context.Context) (ip net.IP, ok bool, err error) {
	for {
		if it.cur != nil && !it.cur.isDone() {
			ip := it.cur.advance()
			if ip == nil {
				it.cur = nil
				continue
			}
			if it.exclude[ip.String()] {
				continue
			}
			return ip, true, nil
		}

		if it.specIdx >= len(it.specs) {
			return nil, false, nil
		}
		spec := it.specs[it.specIdx]
		it.specIdx++

		walk, resolved, rerr := it.expand(ctx, spec)
		if rerr != nil {
			return nil, false, rerr
		}
		if resolved != nil {
			if it.exclude[resolved.String()] {
				continue
			}
			return resolved, true, nil
		}
		it.cur = walk
	}
}

func (it *Iterator) expand(ctx context.Context, spec Spec) (walker, net.IP, error) {
	raw := strings.TrimSpace(spec.Raw)

	if strings.Contains(raw, "/") {
		_, ipnet, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, nil, errors.WrapScanError(errors.CodeValidation, "invalid CIDR target "+raw, err)
		}
		return newCIDRWalk(ipnet), nil, nil
	}

	if strings.Contains(raw, "-") && !strings.Contains(raw, "::") {
		return parseRange(raw)
	}

	if ip := net.ParseIP(raw); ip != nil {
		return nil, ip, nil
	}

	ips, err := it.resolver.Resolve(ctx, raw)
	if err != nil {
		return nil, nil, err
	}
	if len(ips) == 1 {
		return nil, ips[0], nil
	}
	// Multiple records: walk them as a literal sequence rather than a
	// numeric range (hostnames rarely resolve to a contiguous block).
	return &hostnameWalk{ips: ips}, nil, nil
}

// hostnameWalk satisfies the walker contract for the rare multi-answer
// hostname case, where the addresses returned are not a contiguous range.
type hostnameWalk struct {
	ips  []net.IP
	i    int
	done bool
}

func (h *hostnameWalk) isDone() bool { return h.done }

func (h *hostnameWalk) advance() net.IP {
	if h.i >= len(h.ips) {
		h.done = true
		return nil
	}
	ip := h.ips[h.i]
	h.i++
	return ip
}

func newCIDRWalk(ipnet *net.IPNet) *cidrWalk {
	first := ipnet.IP.Mask(ipnet.Mask)
	last := lastAddr(ipnet)
	return &cidrWalk{next: dup(first), last: last}
}

func parseRange(raw string) (*cidrWalk, net.IP, error) {
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 {
		return nil, nil, errors.NewScanError(errors.CodeValidation, "malformed range target "+raw)
	}
	start := net.ParseIP(strings.TrimSpace(parts[0]))
	if start == nil {
		return nil, nil, errors.NewScanError(errors.CodeValidation, "invalid range start "+parts[0])
	}

	endPart := strings.TrimSpace(parts[1])
	var end net.IP
	if octet, err := strconv.Atoi(endPart); err == nil && start.To4() != nil {
		end = dup(start.To4())
		end[3] = byte(octet)
	} else {
		end = net.ParseIP(endPart)
	}
	if end == nil {
		return nil, nil, errors.NewScanError(errors.CodeValidation, "invalid range end "+parts[1])
	}
	return &cidrWalk{next: start, last: end}, nil, nil
}

func (w *cidrWalk) advance() net.IP {
	if w.done {
		return nil
	}
	cur := dup(w.next)
	if cur.Equal(w.last) {
		w.done = true
	} else {
		incr(w.next)
	}
	return cur
}

func dup(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func incr(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			return
		}
	}
}

func lastAddr(ipnet *net.IPNet) net.IP {
	out := dup(ipnet.IP.Mask(ipnet.Mask))
	for i := range out {
		out[i] |= ^ipnet.Mask[i]
	}
	return out
}

// LoadExcludeFile reads a newline-delimited list of addresses/CIDRs to
// exclude, one per line, blank lines and "#"-prefixed comments ignored.
// Each line is stored verbatim. Iterator matches an address against
// these entries by its exact string form, so a CIDR line does not
// exclude the addresses inside it.
func LoadExcludeFile(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeConfiguration, "cannot read exclude file "+path, err)
	}
	defer f.Close()

	out := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out[line] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapScanError(errors.CodeConfiguration, "cannot read exclude file "+path, err)
	}
	return out, nil
}
