// Package reqhead parses the request-line-plus-headers "head" of an
// HTTP or CONNECT request off a streamed client socket: read lines
// until the blank terminator, split the request line, collect headers,
// and resolve a dial target. The proxy never needs the body, so
// parsing stops there.
package reqhead

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// MaxHeadBytes bounds total bytes read for one head so a client that
// never sends the blank terminator can't pin a connection's memory
// indefinitely.
const MaxHeadBytes = 16 * 1024

var (
	// ErrEmptyRequest covers both a truly empty connection (EOF before
	// any bytes) and EOF mid-head: a client that disconnects before
	// finishing its head gets no response, since there's nothing
	// complete enough to act on. Callers must write nothing.
	ErrEmptyRequest = errors.New("reqhead: empty request")
	// ErrShortHead is the request-line-only-no-headers case: fewer than
	// two raw lines before the blank terminator isn't enough to trust
	// as a real request. Callers must write nothing.
	ErrShortHead = errors.New("reqhead: head has no headers")
	// ErrMalformed covers a request-line that isn't exactly three
	// space-separated tokens, or a lone-LF line terminator.
	ErrMalformed = errors.New("reqhead: malformed request line")
	// ErrHeadTooLarge is returned once MaxHeadBytes is exceeded.
	ErrHeadTooLarge = errors.New("reqhead: head exceeds size limit")
	// ErrBadTarget covers a CONNECT target without host:port, or a
	// non-CONNECT target that fails to resolve to a host at all.
	ErrBadTarget = errors.New("reqhead: cannot resolve remote host/port")
)

// Header is one retained name/value pair; Name preserves original
// casing, lookups elsewhere are case-insensitive.
type Header struct {
	Name  string
	Value string
}

// Head is everything the proxy needs to decide and dial: the parsed
// request line, the resolved remote host/port, retained headers, and
// the raw lines for exact reconstruction when forwarding.
type Head struct {
	Method     string
	Target     string
	RemoteHost string
	RemotePort uint16
	Headers    []Header
	Token      string
	HasToken   bool
	KeepAlive  bool
	RawLines   []string
}

// Get looks up a header value case-insensitively; ok is false if absent.
func (h *Head) Get(name string) (string, bool) {
	for _, kv := range h.Headers {
		if strings.EqualFold(kv.Name, name) {
			return kv.Value, true
		}
	}
	return "", false
}

type lineReader struct {
	br    *bufio.Reader
	n     int
	limit int
}

// readLine reads one CRLF-terminated line, with the terminator stripped.
// A lone LF (no preceding CR) is rejected as malformed. Returns errEOF
// when the underlying reader is exhausted before a terminator arrives.
func (lr *lineReader) readLine() (string, error) {
	var b strings.Builder
	sawCR := false
	for {
		c, err := lr.br.ReadByte()
		if err != nil {
			if b.Len() == 0 && !sawCR {
				return "", errEOF
			}
			// Partial line with no terminator: treat like EOF-mid-head.
			return "", errEOF
		}
		lr.n++
		if lr.n > lr.limit {
			return "", ErrHeadTooLarge
		}
		if c == '\n' {
			if !sawCR {
				return "", ErrMalformed
			}
			return b.String(), nil
		}
		if sawCR {
			// previous byte was CR but this one isn't LF: not a valid
			// terminator; treat CR as literal content and continue.
			b.WriteByte('\r')
			sawCR = false
		}
		if c == '\r' {
			sawCR = true
			continue
		}
		b.WriteByte(c)
	}
}

var errEOF = errors.New("reqhead: eof")

// Parse reads and parses one request head from r.
func Parse(r *bufio.Reader) (*Head, error) {
	lr := &lineReader{br: r, limit: MaxHeadBytes}

	var rawLines []string
	for {
		line, err := lr.readLine()
		if err != nil {
			if err == ErrHeadTooLarge || err == ErrMalformed {
				return nil, err
			}
			// EOF: no blank-line terminator ever arrived.
			if len(rawLines) == 0 {
				return nil, ErrEmptyRequest
			}
			return nil, ErrEmptyRequest
		}
		if line == "" {
			break
		}
		rawLines = append(rawLines, line)
	}

	if len(rawLines) == 0 {
		return nil, ErrEmptyRequest
	}
	if len(rawLines) < 2 {
		return nil, ErrShortHead
	}

	method, target, _, ok := parseRequestLine(rawLines[0])
	if !ok {
		return nil, ErrMalformed
	}

	head := &Head{
		Method:   strings.ToUpper(method),
		Target:   target,
		RawLines: rawLines,
	}

	for _, line := range rawLines[1:] {
		name, value, ok := parseHeaderLine(line)
		if !ok {
			continue // malformed header lines are silently dropped
		}
		head.Headers = append(head.Headers, Header{Name: name, Value: value})
	}

	host, port, err := resolveTarget(method, target)
	if err != nil {
		return nil, err
	}

	if hostHeader, ok := head.Get("Host"); ok {
		h, p := splitHostPortDefault(hostHeader, 80)
		if h != "" {
			host, port = h, p
		}
	}
	if host == "" || port == 0 {
		return nil, ErrBadTarget
	}
	head.RemoteHost = host
	head.RemotePort = uint16(port)

	if v, ok := firstOf(head, "Connection", "Proxy-Connection"); ok {
		head.KeepAlive = strings.Contains(strings.ToLower(v), "keep-alive")
	}

	if v, ok := head.Get("Proxy-Authorization"); ok {
		head.Token = v
		head.HasToken = true
	}

	return head, nil
}

func firstOf(h *Head, names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := h.Get(n); ok {
			return v, true
		}
	}
	return "", false
}

func parseRequestLine(line string) (method, target, version string, ok bool) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return "", "", "", false
	}
	for _, p := range parts {
		if p == "" {
			return "", "", "", false
		}
	}
	return parts[0], parts[1], parts[2], true
}

// parseHeaderLine matches "name: value", tolerating the optional single
// space after the colon that most clients send.
func parseHeaderLine(line string) (name, value string, ok bool) {
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return "", "", false
	}
	name = line[:i]
	value = line[i+1:]
	value = strings.TrimPrefix(value, " ")
	if strings.ContainsAny(name, "\r\n") || strings.ContainsAny(value, "\r\n") {
		return "", "", false
	}
	return name, value, true
}

func resolveTarget(method, target string) (host string, port int, err error) {
	if strings.EqualFold(method, "CONNECT") {
		h, pStr, ok := cutLast(target, ':')
		if !ok || h == "" || pStr == "" {
			return "", 0, ErrBadTarget
		}
		p, convErr := strconv.Atoi(pStr)
		if convErr != nil || p < 1 || p > 65535 {
			return "", 0, ErrBadTarget
		}
		return h, p, nil
	}

	u, parseErr := url.Parse(target)
	if parseErr == nil && u.Host != "" {
		h, pStr := u.Hostname(), u.Port()
		if pStr == "" {
			return h, 80, nil
		}
		p, convErr := strconv.Atoi(pStr)
		if convErr != nil {
			return "", 0, ErrBadTarget
		}
		return h, p, nil
	}
	// Fall back to a bare host[:port] target.
	h, p := splitHostPortDefault(target, 80)
	if h == "" {
		return "", 0, ErrBadTarget
	}
	return h, p, nil
}

// splitHostPortDefault parses "host[:port]", defaulting port when
// absent. Used both for the request target and for the Host header
// override, so a bare hostname always resolves the same way.
func splitHostPortDefault(hostport string, def int) (host string, port int) {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return "", 0
	}
	h, p, ok := cutLast(hostport, ':')
	if !ok {
		return hostport, def
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return hostport, def
	}
	return h, n
}

func cutLast(s string, sep byte) (before, after string, ok bool) {
	i := strings.LastIndexByte(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

// String is used for diagnostic logging only.
func (h *Head) String() string {
	return fmt.Sprintf("%s %s -> %s:%d", h.Method, h.Target, h.RemoteHost, h.RemotePort)
}
