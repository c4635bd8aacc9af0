package netdisk

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"panshare/internal"
)

var (
	shareIDPattern  = regexp.MustCompile(`"shareid":(\d+?),`)
	shareUKPattern  = regexp.MustCompile(`"share_uk":"?(\d+?)"?,`)
	fsIDPattern     = regexp.MustCompile(`"fs_id":(\d+?),`)
	fileNamePattern = regexp.MustCompile(`"server_filename":"(.+?)",`)
)

// sharedFile is one object listed on a Baidu share page
type sharedFile struct {
	FsID string
	Name string
}

// sharePage is the data a Baidu share page embeds in its scripts
type sharePage struct {
	ShareID string
	UK      string
	Files   []sharedFile
}

// parseSharePage extracts the share id, the sharer uk and the listed objects
// from a share page. Values repeat across the embedded scripts, so each list
// keeps first occurrences only and ids are paired with names by position.
func parseSharePage(html []byte) (*sharePage, error) {
	text := scriptText(html)

	page := &sharePage{
		ShareID: firstMatch(shareIDPattern, text),
		UK:      firstMatch(shareUKPattern, text),
	}
	if page.ShareID == "" || page.UK == "" {
		return nil, internal.NewRemoteDataMissingError("shareid/share_uk").
			WithProvider(internal.ProviderBaidu.Name()).
			WithStep("page")
	}

	ids := uniqueMatches(fsIDPattern, text)
	names := uniqueMatches(fileNamePattern, text)
	if len(ids) == 0 || len(names) == 0 {
		return nil, internal.NewRemoteDataMissingError("fs_id/server_filename").
			WithProvider(internal.ProviderBaidu.Name()).
			WithStep("page")
	}

	n := len(ids)
	if len(names) < n {
		n = len(names)
	}
	for i := 0; i < n; i++ {
		page.Files = append(page.Files, sharedFile{FsID: ids[i], Name: decodeJSString(names[i])})
	}
	return page, nil
}

// scriptText joins the bodies of all script elements, falling back to the
// raw document when it cannot be parsed or holds no scripts
func scriptText(html []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return string(html)
	}

	var sb strings.Builder
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		sb.WriteString(s.Text())
		sb.WriteByte('\n')
	})
	if strings.TrimSpace(sb.String()) == "" {
		return string(html)
	}
	return sb.String()
}

func firstMatch(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func uniqueMatches(re *regexp.Regexp, text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}

// decodeJSString resolves \uXXXX and similar escapes in a captured string literal
func decodeJSString(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}
