package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// dohEndpoint is the DNS-over-HTTPS resolver spec.md §4.1 mandates.
const dohEndpoint = "https://dns.google/resolve"

// dohAnswer is one entry in the DoH JSON response's Answer array.
type dohAnswer struct {
	Type int    `json:"type"`
	Data string `json:"data"`
}

// dohResponse is the subset of the DoH JSON response MXResolver consumes.
type dohResponse struct {
	Status int         `json:"Status"`
	Answer []dohAnswer `json:"Answer"`
}

const mxRecordType = 15

// MXResolver resolves a recipient domain's MX hosts over DNS-over-HTTPS,
// grounded on the teacher's engine.DNSResolver.LookupMX but speaking the
// JSON-over-HTTPS wire format spec.md §4.1 mandates instead of classic DNS.
type MXResolver struct {
	httpClient *http.Client
	endpoint   string
}

// NewMXResolver builds a resolver using httpClient, or http.DefaultClient
// if nil.
func NewMXResolver(httpClient *http.Client) *MXResolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &MXResolver{httpClient: httpClient, endpoint: dohEndpoint}
}

// mxPreference pairs a parsed MX host with its numeric preference for
// sorting, discarded once the final ordered hostname list is built.
type mxPreference struct {
	host       string
	preference int
}

// Resolve returns the domain's MX hosts ordered by ascending preference,
// with any trailing dot stripped. On HTTP or JSON error, or when Status != 0,
// it returns an empty slice: "no deliverable MX known" per spec.md §4.1.
func (r *MXResolver) Resolve(ctx context.Context, domain string) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return nil
	}

	q := url.Values{}
	q.Set("name", domain)
	q.Set("type", "MX")
	q.Set("ct", "application/x-javascript")
	q.Set("edns_client_subnet", "0.0.0.0/0")
	q.Set("cd", "false")
	req.URL.RawQuery = q.Encode()

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var body dohResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil
	}
	if body.Status != 0 {
		return nil
	}

	var records []mxPreference
	for _, ans := range body.Answer {
		if ans.Type != mxRecordType {
			continue
		}
		host, pref, ok := parseMXData(ans.Data)
		if !ok {
			continue
		}
		records = append(records, mxPreference{host: host, preference: pref})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].preference < records[j].preference
	})

	hosts := make([]string, 0, len(records))
	for _, rec := range records {
		hosts = append(hosts, rec.host)
	}
	return hosts
}

// parseMXData parses a DoH MX answer's "data" field, formatted as
// "<preference> <host>.". A bare hostname with no space is kept with
// preference 0 (a trailing dot is still stripped), per spec.md §4.1's "if an entry lacks the space" clause.
func parseMXData(data string) (host string, preference int, ok bool) {
	data = strings.TrimSpace(data)
	if data == "" {
		return "", 0, false
	}

	idx := strings.IndexByte(data, ' ')
	if idx < 0 {
		return strings.TrimSuffix(data, "."), 0, true
	}

	prefStr, hostPart := data[:idx], strings.TrimSpace(data[idx+1:])
	pref, err := strconv.Atoi(prefStr)
	if err != nil {
		return "", 0, false
	}
	return strings.TrimSuffix(hostPart, "."), pref, true
}

// errNoMXHosts signals ResolutionFailure to the Delivery Engine.
var errNoMXHosts = fmt.Errorf("no mx hosts resolved")
