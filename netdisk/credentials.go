package netdisk

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"panshare/internal"
)

// CredentialSupplier hands out session cookies that pass a cheap
// well-formedness check. Passing the check does not prove the session is
// still accepted by the provider.
type CredentialSupplier struct {
	store     internal.CredentialStore
	minLength int
	logger    *internal.SecureLogger
}

// NewCredentialSupplier creates a supplier backed by store
func NewCredentialSupplier(store internal.CredentialStore, minLength int, logger *internal.SecureLogger) *CredentialSupplier {
	if logger == nil {
		logger = internal.GetLogger()
	}
	return &CredentialSupplier{store: store, minLength: minLength, logger: logger}
}

// Credential returns the cookie for p or a CredentialMissing/CredentialMalformed error
func (s *CredentialSupplier) Credential(ctx context.Context, p internal.ProviderIdentity) (string, error) {
	cookie, ok, err := s.store.GetCredential(ctx, p.Name())
	if err != nil {
		return "", internal.WrapPanError(err, "credential lookup failed", internal.ErrCatalog).
			WithProvider(p.Name()).
			WithStep("credential")
	}

	cookie = strings.TrimSpace(cookie)
	if !ok || cookie == "" {
		return "", internal.NewCredentialMissingError(p.Name())
	}
	if len(cookie) < s.minLength {
		s.logger.Warn("cookie for %s is %d bytes, expected at least %d; treating it as absent", p.Name(), len(cookie), s.minLength)
		return "", internal.NewCredentialMalformedError(p.Name(), len(cookie), s.minLength)
	}
	return cookie, nil
}

// StaticCredentialStore serves cookies fixed at process start
type StaticCredentialStore map[string]string

// NewStaticCredentialStore collects the cookies present in the configuration
func NewStaticCredentialStore(cfg *internal.Config) StaticCredentialStore {
	store := StaticCredentialStore{}
	for _, p := range []internal.ProviderIdentity{internal.ProviderQuark, internal.ProviderBaidu} {
		if c := cfg.Cookie(p); c != "" {
			store[p.Name()] = c
		}
	}
	return store
}

func (s StaticCredentialStore) GetCredential(_ context.Context, provider string) (string, bool, error) {
	c, ok := s[provider]
	return c, ok, nil
}

// ChainCredentialStore asks each store in turn and returns the first hit
type ChainCredentialStore []internal.CredentialStore

func (c ChainCredentialStore) GetCredential(ctx context.Context, provider string) (string, bool, error) {
	var firstErr error
	for _, store := range c {
		cookie, ok, err := store.GetCredential(ctx, provider)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok && strings.TrimSpace(cookie) != "" {
			return cookie, true, nil
		}
	}
	return "", false, firstErr
}

// CookieDomain returns the cookie domain suffix a provider's session lives under
func CookieDomain(p internal.ProviderIdentity) string {
	switch p {
	case internal.ProviderQuark:
		return "quark.cn"
	case internal.ProviderBaidu:
		return "baidu.com"
	default:
		return ""
	}
}

// LoadNetscapeCookieHeader reads a Netscape-format cookie file and returns a
// Cookie header built from the unexpired cookies whose domain ends with domain.
// An empty domain keeps every cookie.
func LoadNetscapeCookieHeader(path, domain string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open cookie file: %w", err)
	}
	defer file.Close()

	now := time.Now()
	seen := make(map[string]int)
	var cookies []*http.Cookie

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// curl marks HttpOnly cookies with a comment-like prefix
		line = strings.TrimPrefix(line, "#HttpOnly_")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cookie, err := parseNetscapeCookieLine(line)
		if err != nil {
			return "", fmt.Errorf("invalid cookie format at line %d: %w", lineNum, err)
		}

		if domain != "" && !strings.HasSuffix(strings.TrimPrefix(cookie.Domain, "."), domain) {
			continue
		}
		if !cookie.Expires.IsZero() && now.After(cookie.Expires) {
			continue
		}

		if idx, dup := seen[cookie.Name]; dup {
			cookies[idx] = cookie
			continue
		}
		seen[cookie.Name] = len(cookies)
		cookies = append(cookies, cookie)
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("error reading cookie file: %w", err)
	}

	if len(cookies) == 0 {
		return "", fmt.Errorf("no usable cookies for %q in %s", domain, path)
	}

	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; "), nil
}

// parseNetscapeCookieLine parses a single line from Netscape cookie format
// Format: domain	flag	path	secure	expiration	name	value
func parseNetscapeCookieLine(line string) (*http.Cookie, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 7 {
		return nil, fmt.Errorf("expected 7 fields, got %d", len(fields))
	}

	var expires time.Time
	if fields[4] != "0" {
		timestamp, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid expiration timestamp: %w", err)
		}
		expires = time.Unix(timestamp, 0)
	}

	return &http.Cookie{
		Name:     fields[5],
		Value:    fields[6],
		Domain:   fields[0],
		Path:     fields[2],
		Expires:  expires,
		Secure:   fields[3] == "TRUE",
		HttpOnly: true,
	}, nil
}

// mergeCookies overlays the response cookies onto a Cookie header
func mergeCookies(header string, fresh []*http.Cookie) string {
	type pair struct{ name, value string }
	var pairs []pair
	index := make(map[string]int)

	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		if i, ok := index[name]; ok {
			pairs[i].value = value
			continue
		}
		index[name] = len(pairs)
		pairs = append(pairs, pair{name, value})
	}

	for _, c := range fresh {
		if c.Value == "" {
			continue
		}
		if i, ok := index[c.Name]; ok {
			pairs[i].value = c.Value
			continue
		}
		index[c.Name] = len(pairs)
		pairs = append(pairs, pair{c.Name, c.Value})
	}

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.name+"="+p.value)
	}
	return strings.Join(parts, "; ")
}
