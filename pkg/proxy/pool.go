// Package proxy holds the egress identity pool sessions draw proxies from.
package proxy

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/chrisalpuerto/parallel-sessions/pkg/browser"
	apperrors "github.com/chrisalpuerto/parallel-sessions/pkg/errors"
)

// Pool is a reloadable list of proxies.
type Pool struct {
	mu      sync.Mutex
	path    string
	proxies []browser.Proxy
}

// New creates an in-memory pool.
func New(proxies ...browser.Proxy) *Pool {
	return &Pool{proxies: append([]browser.Proxy(nil), proxies...)}
}

// Load reads a pool from path. Files ending in .yaml or .yml hold a list of
// {server, username, password} entries; anything else is one proxy per line.
func Load(path string) (*Pool, error) {
	p := &Pool{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Path returns the file the pool was loaded from, if any.
func (p *Pool) Path() string {
	return p.path
}

// Reload re-reads the pool file. The current list is kept on error.
func (p *Pool) Reload() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, "read proxy file").
			WithContext("path", p.path)
	}
	var proxies []browser.Proxy
	switch strings.ToLower(filepath.Ext(p.path)) {
	case ".yaml", ".yml":
		proxies, err = ParseYAML(data)
	default:
		proxies, err = ParseLines(bytes.NewReader(data))
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigParse, "parse proxy file").
			WithContext("path", p.path)
	}
	p.Replace(proxies)
	return nil
}

// Replace swaps the pool contents.
func (p *Pool) Replace(proxies []browser.Proxy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxies = append([]browser.Proxy(nil), proxies...)
}

// Len returns the number of proxies in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Sample returns n distinct proxies in random order. The pool itself is not
// consumed; every run samples from the full list.
func (p *Pool) Sample(n int) ([]browser.Proxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput, "invalid sample size %d", n)
	}
	if n > len(p.proxies) {
		return nil, apperrors.Newf(apperrors.ErrCodeProxyPoolExhausted,
			"requested %d proxies but pool has %d", n, len(p.proxies)).
			WithContext("path", p.path).
			WithRemediation("Add proxies to the pool file or lower the session count")
	}
	out := make([]browser.Proxy, n)
	for i, idx := range rand.Perm(len(p.proxies))[:n] {
		out[i] = p.proxies[idx]
	}
	return out, nil
}

// ParseLines reads one proxy per line. Accepted forms are host:port,
// host:port:user:pass and scheme://[user:pass@]host:port. Blank lines and
// lines starting with # are skipped.
func ParseLines(r io.Reader) ([]browser.Proxy, error) {
	var out []browser.Proxy
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		px, err := ParseProxy(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, px)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseProxy parses a single proxy entry.
func ParseProxy(raw string) (browser.Proxy, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return browser.Proxy{}, fmt.Errorf("invalid proxy url %q: %w", raw, err)
		}
		if u.Host == "" || u.Port() == "" {
			return browser.Proxy{}, fmt.Errorf("proxy url %q needs host and port", raw)
		}
		px := browser.Proxy{Server: u.Scheme + "://" + u.Host}
		if u.User != nil {
			px.Username = u.User.Username()
			px.Password, _ = u.User.Password()
		}
		return px, nil
	}

	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 2, 4:
	default:
		return browser.Proxy{}, fmt.Errorf("proxy %q must be host:port or host:port:user:pass", raw)
	}
	if parts[0] == "" || parts[1] == "" {
		return browser.Proxy{}, fmt.Errorf("proxy %q needs host and port", raw)
	}
	px := browser.Proxy{Server: "http://" + net.JoinHostPort(parts[0], parts[1])}
	if len(parts) == 4 {
		px.Username = parts[2]
		px.Password = parts[3]
	}
	return px, nil
}

type yamlProxy struct {
	Server   string `yaml:"server"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ParseYAML reads either a bare list or a {proxies: [...]} document. Entries
// may be strings in any ParseProxy form or objects.
func ParseYAML(data []byte) ([]browser.Proxy, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	list := doc.Content[0]
	if list.Kind == yaml.MappingNode {
		list = nil
		for i := 0; i+1 < len(doc.Content[0].Content); i += 2 {
			if doc.Content[0].Content[i].Value == "proxies" {
				list = doc.Content[0].Content[i+1]
			}
		}
		if list == nil {
			return nil, fmt.Errorf("proxy yaml has no proxies key")
		}
	}
	if list.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("proxy yaml must be a list")
	}

	out := make([]browser.Proxy, 0, len(list.Content))
	for i, item := range list.Content {
		if item.Kind == yaml.ScalarNode {
			px, err := ParseProxy(item.Value)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			out = append(out, px)
			continue
		}
		var entry yamlProxy
		if err := item.Decode(&entry); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if strings.TrimSpace(entry.Server) == "" {
			return nil, fmt.Errorf("entry %d: server is required", i)
		}
		px, err := ParseProxy(entry.Server)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if entry.Username != "" {
			px.Username = entry.Username
			px.Password = entry.Password
		}
		out = append(out, px)
	}
	return out, nil
}

// Identity returns the label shown as a session's egress identity.
func Identity(px *browser.Proxy) string {
	if px == nil || px.Server == "" {
		return ""
	}
	if u, err := url.Parse(px.Server); err == nil && u.Host != "" {
		return u.Host
	}
	return px.Server
}
