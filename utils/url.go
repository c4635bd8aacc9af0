package utils

import (
	"regexp"
	"strings"

	"panshare/internal"
)

// classifierRule maps a URL pattern to the provider serving it
type classifierRule struct {
	provider internal.ProviderIdentity
	pattern  *regexp.Regexp
}

// LinkClassifier recognises provider share links. Rules are evaluated in
// order and the first match wins; patterns search anywhere in the input
// because links usually arrive embedded in message text.
type LinkClassifier struct {
	rules []classifierRule

	quarkCode   *regexp.Regexp
	baiduCode   []*regexp.Regexp
	pwdParam    *regexp.Regexp
	pwdFreeText *regexp.Regexp
}

// hostBoundary keeps a provider host from matching inside a longer host name
const hostBoundary = `(?i)(?:^|[^a-z0-9.-])(?:https?://)?`

// NewLinkClassifier creates a classifier with the built-in provider table
func NewLinkClassifier() *LinkClassifier {
	return &LinkClassifier{
		rules: []classifierRule{
			{internal.ProviderBaidu, regexp.MustCompile(hostBoundary + `(?:www\.)?(?:pan\.baidu\.com|bdpan\.com|baiduyun\.com)/`)},
			{internal.ProviderQuark, regexp.MustCompile(hostBoundary + `pan\.quark\.cn/`)},
		},
		quarkCode: regexp.MustCompile(`/s/(\w+)`),
		baiduCode: []*regexp.Regexp{
			regexp.MustCompile(`s/1([a-zA-Z0-9_-]+)`),
			// old format: /share/init?surl=xxxx
			regexp.MustCompile(`surl=([a-zA-Z0-9_-]+)`),
		},
		pwdParam:    regexp.MustCompile(`(?i)pwd=([a-zA-Z0-9]{4})`),
		pwdFreeText: regexp.MustCompile(`(?i)(?:提取码|访问码|passcode|密码)\s*[:：]?\s*([a-zA-Z0-9]{4})`),
	}
}

// Classify returns the provider a share URL belongs to, or ProviderUnknown
func (c *LinkClassifier) Classify(raw string) internal.ProviderIdentity {
	for _, rule := range c.rules {
		if rule.pattern.MatchString(raw) {
			return rule.provider
		}
	}
	return internal.ProviderUnknown
}

// ParseShare extracts the share code and optional passcode from raw.
// Code stays empty unless raw matched a known provider.
func (c *LinkClassifier) ParseShare(raw string) internal.ShareReference {
	ref := internal.ShareReference{URL: strings.TrimSpace(raw)}

	switch c.Classify(raw) {
	case internal.ProviderQuark:
		if m := c.quarkCode.FindStringSubmatch(raw); m != nil {
			ref.Code = m[1]
		}
	case internal.ProviderBaidu:
		for _, re := range c.baiduCode {
			if m := re.FindStringSubmatch(raw); m != nil {
				ref.Code = m[1]
				break
			}
		}
	default:
		return ref
	}

	ref.Passcode = c.extractPasscode(raw)
	return ref
}

func (c *LinkClassifier) extractPasscode(raw string) string {
	if m := c.pwdParam.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	if m := c.pwdFreeText.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}
