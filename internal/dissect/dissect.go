// Package dissect extracts candidate strings (addresses, hostnames and
// links) from an email for matching against indicators.
package dissect

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// Candidate types.
const (
	TypeFrom       = "email_from"
	TypeSender     = "email_sender"
	TypeReplyTo    = "email_replyto"
	TypeReturnPath = "email_return"
	TypeHop        = "email_hop"
	TypeLink       = "email_link"
	TypeMailto     = TypeLink + "_mailto"

	domainSuffix = "_domain"
)

// Indication groups.
const (
	GroupSender    = "sender"
	GroupReplyTo   = "replyto"
	GroupHops      = "hops"
	GroupLinks     = "links"
	GroupAddresses = "addresses"
)

// Candidate is one string to check against the indicator store.
type Candidate struct {
	// Group is the indication group the candidate counts towards.
	Group string
	// Seq numbers the source within the message; candidates derived from
	// the same header value or link share it.
	Seq int
	// Source is the header value or link the candidate was derived from.
	Source string
	Raw    string
	Type   string
}

var angleAddr = regexp.MustCompile(`<([^>]*)`)

type walker struct {
	logger *zap.Logger
	seq    int
	out    []Candidate
}

// Dissect returns every candidate of msg in header-then-body order. The
// result is not deduplicated.
func Dissect(msg *Message, logger *zap.Logger) []Candidate {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &walker{logger: logger}

	for _, v := range msg.Values("from") {
		w.addressList(GroupSender, v, TypeFrom)
	}
	for _, v := range msg.Values("sender") {
		w.addressList(GroupSender, v, TypeSender)
	}
	for _, v := range msg.Values("reply-to") {
		w.addressList(GroupReplyTo, v, TypeReplyTo)
	}
	for _, v := range msg.Values("return-path") {
		w.addressList(GroupReplyTo, v, TypeReturnPath)
	}
	for _, key := range []string{"received", "x-received"} {
		for _, v := range msg.Values(key) {
			w.mailHop(v)
		}
	}

	for _, p := range msg.Parts {
		w.part(p, false)
	}
	return w.out
}

func (w *walker) next() int {
	w.seq++
	return w.seq
}

func (w *walker) emit(group string, seq int, source, raw, typ string) {
	w.out = append(w.out, Candidate{Group: group, Seq: seq, Source: source, Raw: raw, Type: typ})
}

// addressList checks every address of a header value.
func (w *walker) addressList(group, value, typ string) {
	for _, addr := range splitAddresses(value) {
		w.address(group, w.next(), addr, typ)
	}
}

// splitAddresses normalizes a header value into bare addresses.
func splitAddresses(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(value); err == nil && len(list) > 0 {
		out := make([]string, 0, len(list))
		for _, a := range list {
			if a.Address != "" {
				out = append(out, a.Address)
			}
		}
		return out
	}
	if m := angleAddr.FindStringSubmatch(value); m != nil {
		value = strings.TrimSpace(m[1])
	}
	if value == "" {
		return nil
	}
	return []string{value}
}

// address emits the address and then checks its domain part.
func (w *walker) address(group string, seq int, addr, typ string) {
	w.emit(group, seq, addr, addr, typ)
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		w.logger.Info("address without domain part", zap.String("address", addr))
		return
	}
	w.domain(group, seq, addr, addr[at+1:], typ)
}

// domain emits the hostname and, when it differs, its registrable domain.
func (w *walker) domain(group string, seq int, source, host, typ string) {
	w.emit(group, seq, source, host, typ)
	if reduced := RegistrableDomain(host); reduced != "" && reduced != host {
		w.emit(group, seq, source, reduced, typ+domainSuffix)
	}
}

// RegistrableDomain returns the public suffix plus one label of host, or
// "" if host has none (IP literals, bare public suffixes).
func RegistrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || net.ParseIP(strings.Trim(host, "[]")) != nil {
		return ""
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return d
}

// mailHop is the extension point for routing-based detection. Hop values
// are visited but never produce candidates.
func (w *walker) mailHop(hop string) {
	w.next()
	w.logger.Debug("mail hop", zap.String("type", TypeHop), zap.String("hop", hop))
}

// part selects the body content of one MIME part and scans it.
func (w *walker) part(p *Part, nested bool) {
	if p == nil {
		return
	}
	var use *Part
	switch p.ContentType {
	case "text/plain", "text/html":
		use = p
	case "multipart/alternative":
		for _, c := range p.Parts {
			if c.ContentType == "text/plain" && use == nil {
				use = c
			}
			if c.ContentType == "text/html" {
				use = c
			}
		}
	case "multipart/mixed", "multipart/signed", "multipart/report", "multipart/related":
		for _, c := range p.Parts {
			w.part(c, true)
		}
		return
	default:
		w.logger.Debug("skipped MIME type", zap.String("content_type", p.ContentType))
	}
	if use == nil {
		if !nested {
			w.logger.Info("no usable body content", zap.String("content_type", p.ContentType))
		}
		return
	}

	var links []string
	if use.ContentType == "text/html" {
		links = HTMLLinks(use.Body)
	} else {
		links = TextLinks(use.Body)
	}
	for _, l := range links {
		w.link(l)
	}
}

// link checks one link target.
func (w *walker) link(link string) {
	link = strings.TrimSpace(link)
	if link == "" || strings.HasPrefix(link, "#") {
		return
	}
	lower := strings.ToLower(link)
	switch {
	case strings.HasPrefix(lower, "mailto:"):
		addr := link[len("mailto:"):]
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if unescaped, err := url.PathUnescape(addr); err == nil {
			addr = unescaped
		}
		for _, a := range splitAddresses(addr) {
			w.address(GroupAddresses, w.next(), a, TypeMailto)
		}
		return
	case strings.HasPrefix(lower, "javascript:"):
		w.logger.Info("javascript link skipped", zap.String("link", link))
		return
	}

	if !strings.Contains(link, "://") {
		link = "http://" + link
	}
	u, err := url.Parse(link)
	if err != nil {
		w.logger.Info("malformed link skipped", zap.String("link", link), zap.Error(err))
		return
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		w.logger.Info("link without host skipped", zap.String("link", link))
		return
	}
	w.domain(GroupLinks, w.next(), link, host, TypeLink)
}
