package netdisk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"panshare/internal"
	"panshare/utils"
)

const (
	defaultBaiduBaseURL = "https://pan.baidu.com"
	baiduAppID          = "250528"
	baiduListPageSize   = 1000
)

// BaiduConfig tunes the Baidu adapter
type BaiduConfig struct {
	BaseURL        string
	SaveDir        string
	TokenTTL       time.Duration
	TokenCacheSize int
	Now            func() time.Time
}

// DefaultBaiduConfig derives the adapter configuration from the application config
func DefaultBaiduConfig(cfg *internal.Config) BaiduConfig {
	return BaiduConfig{
		BaseURL:        defaultBaiduBaseURL,
		SaveDir:        cfg.BaiduSaveDir,
		TokenTTL:       cfg.BdstokenTTL,
		TokenCacheSize: cfg.BdstokenCacheSize,
	}
}

type tokenEntry struct {
	token    string
	storedAt time.Time
}

// BaiduAdapter drives the Baidu share protocol: a chain of dependent calls
// around a scraped share page
type BaiduAdapter struct {
	client *utils.HTTPClient
	cfg    BaiduConfig
	tokens *lru.Cache[string, tokenEntry]
	logger *internal.SecureLogger
}

// baiduStatus is the status part shared by every Baidu JSON response
type baiduStatus struct {
	Errno  int    `json:"errno"`
	Errmsg string `json:"errmsg"`
}

type baiduListEntry struct {
	FsID           int64  `json:"fs_id"`
	Path           string `json:"path"`
	ServerFilename string `json:"server_filename"`
	IsDir          int    `json:"isdir"`
}

// NewBaiduAdapter creates a Baidu adapter
func NewBaiduAdapter(client *utils.HTTPClient, cfg BaiduConfig, logger *internal.SecureLogger) (*BaiduAdapter, error) {
	if logger == nil {
		logger = internal.GetLogger()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaiduBaseURL
	}
	if cfg.SaveDir == "" {
		cfg.SaveDir = "/"
	}
	if cfg.TokenCacheSize <= 0 {
		cfg.TokenCacheSize = 16
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	tokens, err := lru.New[string, tokenEntry](cfg.TokenCacheSize)
	if err != nil {
		return nil, err
	}
	return &BaiduAdapter{client: client, cfg: cfg, tokens: tokens, logger: logger}, nil
}

func (b *BaiduAdapter) Provider() internal.ProviderIdentity {
	return internal.ProviderBaidu
}

// Handle builds a path-addressed handle
func (b *BaiduAdapter) Handle(objectID string) internal.RemoteObjectHandle {
	return internal.RemoteObjectHandle{
		Provider: internal.ProviderBaidu,
		Scheme:   internal.AddressByPath,
		ID:       objectID,
		Name:     path.Base(objectID),
	}
}

// Store transfers the first object of share into destDir (an absolute path)
// and creates a passcode-protected share for the copy. When the copy cannot be
// located afterwards the result is partial: a path handle and no link.
func (b *BaiduAdapter) Store(ctx context.Context, share internal.ShareReference, destDir, cookie string) (*internal.ReshareResult, error) {
	if share.Code == "" {
		return nil, internal.NewPanError(0, "share link carries no share code", internal.ErrInvalidRequest).
			WithProvider(b.Provider().Name()).
			WithStep("resolve").
			WithURL(share.URL)
	}
	if destDir == "" {
		destDir = b.cfg.SaveDir
	}
	if !strings.HasPrefix(destDir, "/") {
		destDir = "/" + destDir
	}

	bdstoken := b.bdstoken(ctx, cookie)

	session := cookie
	if share.Passcode != "" {
		var err error
		session, err = b.verify(ctx, share, bdstoken, cookie)
		if err != nil {
			return nil, err
		}
	}

	page, err := b.sharePage(ctx, share.Code, session)
	if err != nil {
		return nil, err
	}
	if len(page.Files) > 1 {
		b.logger.Warn("baidu share %s lists %d objects, only %q is transferred", share.Code, len(page.Files), page.Files[0].Name)
	}
	file := page.Files[0]

	transferred, err := b.transfer(ctx, page, file, destDir, bdstoken, session)
	if err != nil {
		return nil, err
	}

	// the transfer has happened remotely; finish the chain even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	expected := path.Join(destDir, file.Name)
	if transferred != "" {
		expected = transferred
	}

	entry, err := b.locate(ctx, path.Dir(expected), path.Base(expected), cookie)
	if err != nil || entry == nil {
		if err != nil {
			b.logger.Warn("failed to locate %s after transfer: %v", expected, err)
		}
		handle := b.Handle(expected)
		return &internal.ReshareResult{Handle: handle, Partial: true}, nil
	}

	shareURL, err := b.createShare(ctx, entry.FsID, bdstoken, cookie)
	if err != nil {
		return nil, err
	}

	handle := b.Handle(entry.Path)
	handle.Name = entry.ServerFilename
	handle.Kind = "file"
	if entry.IsDir == 1 {
		handle.Kind = "folder"
	}

	b.logger.Info("baidu share %s stored at %s and reshared", share.Code, entry.Path)
	return &internal.ReshareResult{Handle: handle, ShareURL: shareURL}, nil
}

// Delete removes an object by path; a path that no longer exists counts as deleted
func (b *BaiduAdapter) Delete(ctx context.Context, handle internal.RemoteObjectHandle, cookie string) error {
	if handle.Provider != internal.ProviderBaidu || handle.Scheme != internal.AddressByPath || handle.ID == "" {
		return internal.NewPanError(0, "handle is not a baidu object path", internal.ErrInvalidRequest).
			WithProvider(b.Provider().Name()).
			WithStep("delete").
			WithContext("object_id", handle.ID)
	}

	filelist, _ := json.Marshal([]string{handle.ID})
	query := url.Values{
		"async":      {"2"},
		"onnest":     {"fail"},
		"opera":      {"delete"},
		"bdstoken":   {b.bdstoken(ctx, cookie)},
		"newVerify":  {"1"},
		"clienttype": {"0"},
		"web":        {"1"},
		"app_id":     {baiduAppID},
	}

	var status baiduStatus
	if _, err := b.call(ctx, "delete", &utils.Request{
		Method:   http.MethodPost,
		URL:      b.cfg.BaseURL + "/api/filemanager",
		Query:    query,
		Cookie:   cookie,
		Form:     url.Values{"filelist": {string(filelist)}},
		Mutation: true,
	}, &status); err != nil {
		return err
	}

	switch status.Errno {
	case 0:
		b.logger.Info("baidu object %s deleted", handle.ID)
		return nil
	case errnoNotFound:
		b.logger.Debug("baidu object %s already gone", handle.ID)
		return nil
	default:
		return baiduError(status.Errno, status.Errmsg, "delete").WithContext("object_id", handle.ID)
	}
}

// bdstoken returns the anti-CSRF token for a session. Lookup failures are
// logged and yield an empty token; empty tokens are never cached.
func (b *BaiduAdapter) bdstoken(ctx context.Context, cookie string) string {
	key := cookieKey(cookie)
	if e, ok := b.tokens.Get(key); ok {
		if b.cfg.TokenTTL <= 0 || b.cfg.Now().Sub(e.storedAt) < b.cfg.TokenTTL {
			return e.token
		}
		b.tokens.Remove(key)
	}

	var resp struct {
		baiduStatus
		Result struct {
			Bdstoken string `json:"bdstoken"`
		} `json:"result"`
	}
	_, err := b.call(ctx, "bdstoken", &utils.Request{
		Method: http.MethodGet,
		URL:    b.cfg.BaseURL + "/api/gettemplatevariable",
		Query: url.Values{
			"clienttype": {"0"},
			"app_id":     {baiduAppID},
			"web":        {"1"},
			"fields":     {`["bdstoken"]`},
		},
		Cookie: cookie,
	}, &resp)
	if err != nil {
		b.logger.Debug("bdstoken lookup failed: %v", err)
		return ""
	}
	if resp.Errno != 0 || resp.Result.Bdstoken == "" {
		b.logger.Debug("bdstoken lookup returned errno %d", resp.Errno)
		return ""
	}

	b.tokens.Add(key, tokenEntry{token: resp.Result.Bdstoken, storedAt: b.cfg.Now()})
	return resp.Result.Bdstoken
}

// verify submits the passcode and returns the session cookie extended with
// the cookies the verification grants
func (b *BaiduAdapter) verify(ctx context.Context, share internal.ShareReference, bdstoken, cookie string) (string, error) {
	query := url.Values{
		"surl":       {share.Code},
		"t":          {strconv.FormatInt(b.cfg.Now().UnixMilli(), 10)},
		"bdstoken":   {bdstoken},
		"channel":    {"chunlei"},
		"clienttype": {"0"},
		"web":        {"1"},
	}

	var resp struct {
		baiduStatus
		Randsk string `json:"randsk"`
	}
	raw, err := b.call(ctx, "verify", &utils.Request{
		Method: http.MethodPost,
		URL:    b.cfg.BaseURL + "/share/verify",
		Query:  query,
		Header: map[string]string{"Referer": b.cfg.BaseURL + "/s/1" + share.Code},
		Cookie: cookie,
		Form:   url.Values{"pwd": {share.Passcode}, "vcode": {""}, "vcode_str": {""}},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Errno != 0 {
		return "", baiduError(resp.Errno, resp.Errmsg, "verify").WithURL(share.URL)
	}

	fresh := raw.Cookies()
	if resp.Randsk != "" {
		fresh = append(fresh, &http.Cookie{Name: "BDCLND", Value: resp.Randsk})
	}
	return mergeCookies(cookie, fresh), nil
}

func (b *BaiduAdapter) sharePage(ctx context.Context, code, session string) (*sharePage, error) {
	resp, err := b.client.Do(ctx, &utils.Request{
		Method: http.MethodGet,
		URL:    b.cfg.BaseURL + "/s/1" + code,
		Header: map[string]string{"Accept": "text/html,application/xhtml+xml"},
		Cookie: session,
	})
	if err != nil {
		return nil, internal.AsPanError(err, internal.ErrTransport).
			WithProvider(b.Provider().Name()).
			WithStep("page")
	}
	return parseSharePage(resp.Body)
}

// transfer copies file into destDir and returns the destination path the
// remote reports, if any
func (b *BaiduAdapter) transfer(ctx context.Context, page *sharePage, file sharedFile, destDir, bdstoken, session string) (string, error) {
	query := url.Values{
		"shareid":    {page.ShareID},
		"from":       {page.UK},
		"ondup":      {"newcopy"},
		"async":      {"1"},
		"bdstoken":   {bdstoken},
		"channel":    {"chunlei"},
		"clienttype": {"0"},
		"web":        {"1"},
		"app_id":     {baiduAppID},
	}

	var resp struct {
		baiduStatus
		Extra struct {
			List []struct {
				From string `json:"from"`
				To   string `json:"to"`
			} `json:"list"`
		} `json:"extra"`
	}
	if _, err := b.call(ctx, "transfer", &utils.Request{
		Method:   http.MethodPost,
		URL:      b.cfg.BaseURL + "/share/transfer",
		Query:    query,
		Cookie:   session,
		Form:     url.Values{"fsidlist": {"[" + file.FsID + "]"}, "path": {destDir}},
		Mutation: true,
	}, &resp); err != nil {
		return "", err
	}
	if resp.Errno != 0 {
		return "", baiduError(resp.Errno, resp.Errmsg, "transfer")
	}

	if len(resp.Extra.List) > 0 {
		return resp.Extra.List[0].To, nil
	}
	return "", nil
}

// locate finds name among the most recently modified entries of dir
func (b *BaiduAdapter) locate(ctx context.Context, dir, name, cookie string) (*baiduListEntry, error) {
	query := url.Values{
		"dir":        {dir},
		"page":       {"1"},
		"num":        {strconv.Itoa(baiduListPageSize)},
		"order":      {"time"},
		"desc":       {"1"},
		"clienttype": {"0"},
		"web":        {"1"},
		"app_id":     {baiduAppID},
	}

	var resp struct {
		baiduStatus
		List []baiduListEntry `json:"list"`
	}
	if _, err := b.call(ctx, "locate", &utils.Request{
		Method: http.MethodGet,
		URL:    b.cfg.BaseURL + "/api/list",
		Query:  query,
		Cookie: cookie,
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Errno != 0 {
		return nil, baiduError(resp.Errno, resp.Errmsg, "locate")
	}

	for i := range resp.List {
		if resp.List[i].ServerFilename == name {
			return &resp.List[i], nil
		}
	}
	return nil, nil
}

func (b *BaiduAdapter) createShare(ctx context.Context, fsID int64, bdstoken, cookie string) (string, error) {
	passcode, err := utils.RandomPasscode(4)
	if err != nil {
		return "", internal.WrapPanError(err, "failed to generate passcode", internal.ErrInvalidRequest).
			WithProvider(b.Provider().Name()).
			WithStep("share")
	}

	query := url.Values{
		"channel":    {"chunlei"},
		"bdstoken":   {bdstoken},
		"clienttype": {"0"},
		"web":        {"1"},
		"app_id":     {baiduAppID},
	}
	form := url.Values{
		"fid_list":     {"[" + strconv.FormatInt(fsID, 10) + "]"},
		"schannel":     {"4"},
		"channel_list": {"[]"},
		"period":       {"0"},
		"pwd":          {passcode},
	}

	var resp struct {
		baiduStatus
		Link     string `json:"link"`
		ShortURL string `json:"shorturl"`
	}
	if _, err := b.call(ctx, "share", &utils.Request{
		Method:   http.MethodPost,
		URL:      b.cfg.BaseURL + "/share/set",
		Query:    query,
		Cookie:   cookie,
		Form:     form,
		Mutation: true,
	}, &resp); err != nil {
		return "", err
	}
	if resp.Errno != 0 {
		return "", baiduError(resp.Errno, resp.Errmsg, "share")
	}

	link := resp.ShortURL
	if link == "" {
		link = resp.Link
	}
	if link == "" {
		return "", internal.NewRemoteDataMissingError("shorturl").
			WithProvider(b.Provider().Name()).
			WithStep("share")
	}
	return link + "?pwd=" + passcode, nil
}

// call sends r and decodes the JSON body into out. Application errnos are
// left to the caller since their meaning differs per step.
func (b *BaiduAdapter) call(ctx context.Context, step string, r *utils.Request, out interface{}) (*utils.Response, error) {
	if r.Header == nil {
		r.Header = map[string]string{"Referer": b.cfg.BaseURL + "/disk/home"}
	}

	resp, err := b.client.Do(ctx, r)
	if err != nil {
		return nil, internal.AsPanError(err, internal.ErrTransport).
			WithProvider(b.Provider().Name()).
			WithStep(step)
	}
	if err := resp.DecodeJSON(out); err != nil {
		return nil, internal.AsPanError(err, internal.ErrRemoteProtocol).
			WithProvider(b.Provider().Name()).
			WithStep(step)
	}
	return resp, nil
}

func cookieKey(cookie string) string {
	sum := sha256.Sum256([]byte(cookie))
	return hex.EncodeToString(sum[:])
}
