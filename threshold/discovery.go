package threshold

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/miekg/dns"

	"github.com/bitfsorg/libgrant-go/ledger"
)

const (
	// DiscoveryLabel is prepended to the domain when looking up key servers.
	DiscoveryLabel = "_grant-keyserver"

	defaultUpstream = "8.8.8.8:53"
	dnssecTimeout   = 10 * time.Second
	edns0BufSize    = 4096
)

// TXTResolver looks up TXT records.
type TXTResolver interface {
	LookupTXT(name string) ([]string, error)
}

// DNSSECResolver resolves TXT records through a validating recursive
// resolver and rejects answers without the AD flag.
type DNSSECResolver struct {
	Upstream string
	Net      string // "" for UDP, or "tcp"
}

var _ TXTResolver = (*DNSSECResolver)(nil)

// NewDNSSECResolver creates a resolver. An empty upstream means 8.8.8.8:53.
func NewDNSSECResolver(upstream string) *DNSSECResolver {
	if upstream == "" {
		upstream = defaultUpstream
	}
	return &DNSSECResolver{Upstream: upstream}
}

func (r *DNSSECResolver) query(name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true
	msg.SetEdns0(edns0BufSize, true)

	client := &dns.Client{Net: r.Net, Timeout: dnssecTimeout}
	resp, _, err := client.Exchange(msg, r.Upstream)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %w", ErrDiscovery, name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%w: query %s: rcode %s", ErrDiscovery, name, dns.RcodeToString[resp.Rcode])
	}
	if !resp.AuthenticatedData {
		return nil, fmt.Errorf("%w: AD flag not set for %s", ErrDiscovery, name)
	}
	return resp, nil
}

// LookupTXT returns each TXT record with its strings joined.
func (r *DNSSECResolver) LookupTXT(name string) ([]string, error) {
	resp, err := r.query(name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var txts []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			txts = append(txts, strings.Join(txt.Txt, ""))
		}
	}
	if len(txts) == 0 {
		return nil, fmt.Errorf("%w: no TXT records for %s", ErrDiscovery, name)
	}
	return txts, nil
}

// Discover returns the key servers published for domain as TXT records of
// the form "id=<object id>;pk=<hex compressed key>;url=<base url>", sorted
// by object id. Records that do not parse are an error.
func Discover(r TXTResolver, domain string) ([]ServerInfo, error) {
	txts, err := r.LookupTXT(DiscoveryLabel + "." + strings.TrimSuffix(domain, "."))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(txts))
	var out []ServerInfo
	for _, txt := range txts {
		info, err := ParseServerRecord(txt)
		if err != nil {
			return nil, err
		}
		if seen[info.ObjectID] {
			continue
		}
		seen[info.ObjectID] = true
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObjectID < out[j].ObjectID })
	return out, nil
}

// ParseServerRecord parses one discovery TXT record.
func ParseServerRecord(txt string) (ServerInfo, error) {
	fields := make(map[string]string, 3)
	for _, part := range strings.Split(txt, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		fields[strings.ToLower(k)] = strings.TrimSpace(v)
	}

	id, err := ledger.NormalizeAddress(fields["id"])
	if err != nil {
		return ServerInfo{}, fmt.Errorf("%w: record %q: id: %w", ErrDiscovery, txt, err)
	}
	raw, err := hex.DecodeString(fields["pk"])
	if err != nil {
		return ServerInfo{}, fmt.Errorf("%w: record %q: pk: %w", ErrDiscovery, txt, err)
	}
	pub, err := ec.PublicKeyFromBytes(raw)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("%w: record %q: pk: %w", ErrDiscovery, txt, err)
	}
	if fields["url"] == "" {
		return ServerInfo{}, fmt.Errorf("%w: record %q: missing url", ErrDiscovery, txt)
	}
	return ServerInfo{ObjectID: id, PublicKey: pub, URL: fields["url"]}, nil
}

// ServerRecord formats info as a discovery TXT record.
func ServerRecord(info ServerInfo) string {
	return fmt.Sprintf("id=%s;pk=%s;url=%s", info.ObjectID, hex.EncodeToString(info.PublicKey.Compressed()), info.URL)
}
