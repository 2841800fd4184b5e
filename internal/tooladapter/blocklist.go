package tooladapter

import (
	"net"
	"strings"
)

// defaultBlockedSuffixes are domain suffixes http_fetch refuses regardless
// of policy or the per-adapter allow-list: common data-exfiltration
// channels.
var defaultBlockedSuffixes = []string{
	"telegram.org",
	"t.me",
	"ngrok.io",
	"ngrok-free.app",
	"serveo.net",
	"trycloudflare.com",
	"pastebin.com",
	"hastebin.com",
	"requestbin.com",
	"pipedream.com",
}

// defaultBlockedCIDRs blocks private/link-local networks and the cloud
// metadata endpoint, adapted from the same file's "Private Network Access"
// rule. httpclient's SSRF-safe dialer already enforces this at the dial
// layer; this is the adapter-level check that runs before a request is
// even attempted, so a blocked fetch fails fast with a clear reason.
var defaultBlockedCIDRs = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("tooladapter: invalid blocklist CIDR " + c)
		}
		out = append(out, n)
	}
	return out
}

func suffixBlocked(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, suffix := range defaultBlockedSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

func literalIPBlocked(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range defaultBlockedCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
