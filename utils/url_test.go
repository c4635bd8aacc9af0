package utils

import (
	"testing"

	"panshare/internal"
)

func TestLinkClassifier_Classify(t *testing.T) {
	c := NewLinkClassifier()

	tests := []struct {
		name string
		url  string
		want internal.ProviderIdentity
	}{
		{"quark", "https://pan.quark.cn/s/abc123", internal.ProviderQuark},
		{"quark_no_scheme", "pan.quark.cn/s/abc123", internal.ProviderQuark},
		{"quark_upper_case", "HTTPS://PAN.QUARK.CN/s/abc123", internal.ProviderQuark},
		{"quark_in_text", "资源分享 链接：https://pan.quark.cn/s/abc123 快来", internal.ProviderQuark},
		{"baidu", "https://pan.baidu.com/s/1xyz", internal.ProviderBaidu},
		{"baidu_old_format", "https://pan.baidu.com/share/init?surl=xyz", internal.ProviderBaidu},
		{"bdpan", "http://bdpan.com/s/1xyz", internal.ProviderBaidu},
		{"baiduyun", "https://baiduyun.com/s/1xyz", internal.ProviderBaidu},
		{"baidu_mixed_case", "https://Pan.Baidu.com/s/1xyz", internal.ProviderBaidu},
		{"aliyun", "https://www.aliyundrive.com/s/abc", internal.ProviderUnknown},
		{"empty", "", internal.ProviderUnknown},
		{"host_without_path", "pan.quark.cn", internal.ProviderUnknown},
		{"quark_lookalike_host", "https://evilpan.quark.cn/s/x", internal.ProviderUnknown},
		{"quark_foreign_subdomain", "https://a.pan.quark.cn/s/x", internal.ProviderUnknown},
		{"baidu_lookalike_host", "notpan.baidu.com/s/1x", internal.ProviderUnknown},
		{"baidu_suffix_host", "https://pan.baidu.com.evil.net/s/1x", internal.ProviderUnknown},
		{"baiduyun_www", "https://www.baiduyun.com/s/1xyz", internal.ProviderBaidu},
		{"baidu_after_colon", "链接:pan.baidu.com/s/1xyz", internal.ProviderBaidu},
		{"plain_text", "not a link at all", internal.ProviderUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.url); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestLinkClassifier_Deterministic(t *testing.T) {
	c := NewLinkClassifier()
	urls := []string{
		"https://pan.quark.cn/s/abc123",
		"https://pan.baidu.com/s/1xyz pwd=a1b2",
		"https://example.com",
	}

	for _, u := range urls {
		first := c.Classify(u)
		for i := 0; i < 5; i++ {
			if got := c.Classify(u); got != first {
				t.Fatalf("Classify(%q) changed from %v to %v", u, first, got)
			}
		}
	}
}

func TestLinkClassifier_FirstRuleWins(t *testing.T) {
	c := NewLinkClassifier()
	text := "https://pan.baidu.com/s/1xyz and https://pan.quark.cn/s/abc123"

	if got := c.Classify(text); got != internal.ProviderBaidu {
		t.Errorf("Classify() = %v, want baidu (first rule)", got)
	}
}

func TestLinkClassifier_ParseShare(t *testing.T) {
	c := NewLinkClassifier()

	tests := []struct {
		name     string
		url      string
		code     string
		passcode string
	}{
		{"quark_public", "https://pan.quark.cn/s/abc123", "abc123", ""},
		{"quark_with_pwd", "https://pan.quark.cn/s/abc123?pwd=ab12", "abc123", "ab12"},
		{"baidu_query_pwd", "https://pan.baidu.com/s/1xyz-_Q?pwd=a1b2", "xyz-_Q", "a1b2"},
		{"baidu_space_pwd", "https://pan.baidu.com/s/1xyz pwd=a1b2", "xyz", "a1b2"},
		{"baidu_free_text", "https://pan.baidu.com/s/1xyz 提取码: 9k3z", "xyz", "9k3z"},
		{"baidu_fullwidth_colon", "https://pan.baidu.com/s/1xyz 提取码：9k3z", "xyz", "9k3z"},
		{"baidu_passcode_word", "https://pan.baidu.com/s/1xyz passcode: AbC1", "xyz", "AbC1"},
		{"baidu_surl", "https://pan.baidu.com/share/init?surl=legacy1", "legacy1", ""},
		{"baidu_no_code", "https://pan.baidu.com/disk/home", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := c.ParseShare(tt.url)
			if ref.Code != tt.code {
				t.Errorf("Code = %q, want %q", ref.Code, tt.code)
			}
			if ref.Passcode != tt.passcode {
				t.Errorf("Passcode = %q, want %q", ref.Passcode, tt.passcode)
			}
		})
	}
}

func TestLinkClassifier_ParseShareUnknownHasNoCode(t *testing.T) {
	c := NewLinkClassifier()

	for _, u := range []string{"https://example.com/s/abc123?pwd=ab12", "/s/1xyz", ""} {
		ref := c.ParseShare(u)
		if ref.Code != "" || ref.Passcode != "" {
			t.Errorf("ParseShare(%q) = %+v, unknown links must not carry a code", u, ref)
		}
	}
}
