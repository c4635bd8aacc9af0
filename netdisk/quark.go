package netdisk

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"panshare/internal"
	"panshare/utils"
)

const (
	defaultQuarkBaseURL     = "https://drive-pc.quark.cn"
	defaultQuarkSaveBaseURL = "https://drive.quark.cn"
)

// QuarkConfig tunes the Quark adapter
type QuarkConfig struct {
	BaseURL     string
	SaveBaseURL string
	SaveDir     string
	// WaitDelete polls delete tasks to completion instead of trusting acceptance
	WaitDelete bool
	Poller     utils.Poller
	Now        func() time.Time
}

// DefaultQuarkConfig derives the adapter configuration from the application config
func DefaultQuarkConfig(cfg *internal.Config) QuarkConfig {
	return QuarkConfig{
		BaseURL:     defaultQuarkBaseURL,
		SaveBaseURL: defaultQuarkSaveBaseURL,
		SaveDir:     cfg.QuarkSaveDir,
		WaitDelete:  cfg.QuarkWaitDelete,
		Poller:      utils.Poller{Attempts: cfg.PollAttempts, Interval: cfg.PollInterval},
	}
}

// QuarkAdapter drives the Quark share protocol, whose mutations run as
// asynchronous tasks that must be polled to completion
type QuarkAdapter struct {
	client *utils.HTTPClient
	cfg    QuarkConfig
	logger *internal.SecureLogger
}

// quarkEnvelope is the common shape of every Quark response
type quarkEnvelope struct {
	Status  int             `json:"status"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type quarkShareEntry struct {
	Fid           string `json:"fid"`
	FileName      string `json:"file_name"`
	FileType      int    `json:"file_type"`
	Dir           bool   `json:"dir"`
	PdirFid       string `json:"pdir_fid"`
	ShareFidToken string `json:"share_fid_token"`
}

type quarkTask struct {
	TaskID string `json:"task_id"`
	Status int    `json:"status"`
	SaveAs struct {
		SaveAsTopFids []string `json:"save_as_top_fids"`
	} `json:"save_as"`
	ShareID string `json:"share_id"`
}

// NewQuarkAdapter creates a Quark adapter
func NewQuarkAdapter(client *utils.HTTPClient, cfg QuarkConfig, logger *internal.SecureLogger) *QuarkAdapter {
	if logger == nil {
		logger = internal.GetLogger()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultQuarkBaseURL
	}
	if cfg.SaveBaseURL == "" {
		cfg.SaveBaseURL = defaultQuarkSaveBaseURL
	}
	if cfg.SaveDir == "" {
		cfg.SaveDir = "0"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Poller.Logger == nil {
		cfg.Poller.Logger = logger
	}
	return &QuarkAdapter{client: client, cfg: cfg, logger: logger}
}

func (q *QuarkAdapter) Provider() internal.ProviderIdentity {
	return internal.ProviderQuark
}

// Handle builds an id-addressed handle
func (q *QuarkAdapter) Handle(objectID string) internal.RemoteObjectHandle {
	return internal.RemoteObjectHandle{
		Provider: internal.ProviderQuark,
		Scheme:   internal.AddressByID,
		ID:       objectID,
	}
}

// Store copies the first object of share into destDir (a folder id, "0" is
// the root) and creates a new public share for it
func (q *QuarkAdapter) Store(ctx context.Context, share internal.ShareReference, destDir, cookie string) (*internal.ReshareResult, error) {
	if share.Code == "" {
		return nil, internal.NewPanError(0, "share link carries no share id", internal.ErrInvalidRequest).
			WithProvider(q.Provider().Name()).
			WithStep("resolve").
			WithURL(share.URL)
	}
	if destDir == "" {
		destDir = q.cfg.SaveDir
	}

	stoken, err := q.token(ctx, share, cookie)
	if err != nil {
		return nil, err
	}

	entry, err := q.detail(ctx, share.Code, stoken, cookie)
	if err != nil {
		return nil, err
	}

	saveTask, err := q.save(ctx, share.Code, stoken, entry, destDir, cookie)
	if err != nil {
		return nil, err
	}

	// the copy is queued remotely; finish the sequence even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	saved, err := q.waitTask(ctx, saveTask, "save", cookie)
	if err != nil {
		return nil, err
	}
	if len(saved.SaveAs.SaveAsTopFids) == 0 {
		return nil, internal.NewRemoteDataMissingError("data.save_as.save_as_top_fids").
			WithProvider(q.Provider().Name()).
			WithStep("save")
	}
	fid := saved.SaveAs.SaveAsTopFids[0]

	shareTask, err := q.createShare(ctx, fid, entry.FileName, cookie)
	if err != nil {
		return nil, err
	}
	shared, err := q.waitTask(ctx, shareTask, "share", cookie)
	if err != nil {
		return nil, err
	}
	if shared.ShareID == "" {
		return nil, internal.NewRemoteDataMissingError("data.share_id").
			WithProvider(q.Provider().Name()).
			WithStep("share")
	}

	shareURL, err := q.shareLink(ctx, shared.ShareID, cookie)
	if err != nil {
		return nil, err
	}

	handle := q.Handle(fid)
	handle.Name = entry.FileName
	handle.Kind = "file"
	if entry.Dir || entry.FileType == 0 {
		handle.Kind = "folder"
	}

	q.logger.Info("quark share %s stored as %s and reshared", share.Code, fid)
	return &internal.ReshareResult{Handle: handle, ShareURL: shareURL}, nil
}

// Delete removes an object by id. The remote queues a task; it is polled only
// when WaitDelete is set.
func (q *QuarkAdapter) Delete(ctx context.Context, handle internal.RemoteObjectHandle, cookie string) error {
	if handle.Provider != internal.ProviderQuark || handle.Scheme != internal.AddressByID || handle.ID == "" {
		return internal.NewPanError(0, "handle is not a quark object id", internal.ErrInvalidRequest).
			WithProvider(q.Provider().Name()).
			WithStep("delete").
			WithContext("object_id", handle.ID)
	}

	var data quarkTask
	err := q.call(ctx, "delete", &utils.Request{
		Method:   http.MethodPost,
		URL:      q.cfg.BaseURL + "/1/clouddrive/file/delete",
		Query:    q.commonQuery(),
		Cookie:   cookie,
		JSON:     map[string]interface{}{"action_type": 2, "filelist": []string{handle.ID}, "exclude_fids": []string{}},
		Mutation: true,
	}, &data)
	if err != nil {
		return err
	}

	q.logger.Info("quark delete of %s accepted (task %s)", handle.ID, data.TaskID)
	if !q.cfg.WaitDelete || data.TaskID == "" {
		return nil
	}

	_, err = q.waitTask(context.WithoutCancel(ctx), data.TaskID, "delete", cookie)
	return err
}

func (q *QuarkAdapter) token(ctx context.Context, share internal.ShareReference, cookie string) (string, error) {
	query := q.commonQuery()
	query.Set("__dt", "405")
	query.Set("__t", q.nonce())

	var data struct {
		Stoken string `json:"stoken"`
	}
	err := q.call(ctx, "token", &utils.Request{
		Method: http.MethodPost,
		URL:    q.cfg.BaseURL + "/1/clouddrive/share/sharepage/token",
		Query:  query,
		Cookie: cookie,
		JSON:   map[string]string{"pwd_id": share.Code, "passcode": share.Passcode},
	}, &data)
	if err != nil {
		return "", err
	}
	if data.Stoken == "" {
		return "", internal.NewRemoteDataMissingError("data.stoken").
			WithProvider(q.Provider().Name()).
			WithStep("token")
	}
	return data.Stoken, nil
}

func (q *QuarkAdapter) detail(ctx context.Context, pwdID, stoken, cookie string) (*quarkShareEntry, error) {
	query := q.commonQuery()
	query.Set("pwd_id", pwdID)
	query.Set("stoken", stoken)
	query.Set("pdir_fid", "0")
	query.Set("_page", "1")
	query.Set("_size", "50")

	var data struct {
		List []quarkShareEntry `json:"list"`
	}
	err := q.call(ctx, "detail", &utils.Request{
		Method: http.MethodGet,
		URL:    q.cfg.BaseURL + "/1/clouddrive/share/sharepage/detail",
		Query:  query,
		Cookie: cookie,
	}, &data)
	if err != nil {
		return nil, err
	}
	if len(data.List) == 0 {
		return nil, internal.NewRemoteDataMissingError("data.list").
			WithProvider(q.Provider().Name()).
			WithStep("detail")
	}

	entry := data.List[0]
	if entry.Fid == "" || entry.ShareFidToken == "" {
		return nil, internal.NewRemoteDataMissingError("fid or share_fid_token").
			WithProvider(q.Provider().Name()).
			WithStep("detail")
	}
	if len(data.List) > 1 {
		q.logger.Debug("quark share %s lists %d entries, storing the first", pwdID, len(data.List))
	}
	return &entry, nil
}

func (q *QuarkAdapter) save(ctx context.Context, pwdID, stoken string, entry *quarkShareEntry, destDir, cookie string) (string, error) {
	query := q.commonQuery()
	query.Set("__dt", strconv.Itoa(60000+rand.Intn(240000)))
	query.Set("__t", q.nonce())

	var data quarkTask
	err := q.call(ctx, "save", &utils.Request{
		Method: http.MethodPost,
		URL:    q.cfg.SaveBaseURL + "/1/clouddrive/share/sharepage/save",
		Query:  query,
		Cookie: cookie,
		JSON: map[string]interface{}{
			"fid_list":       []string{entry.Fid},
			"fid_token_list": []string{entry.ShareFidToken},
			"to_pdir_fid":    destDir,
			"pwd_id":         pwdID,
			"stoken":         stoken,
			"pdir_fid":       "0",
			"scene":          "link",
		},
		Mutation: true,
	}, &data)
	if err != nil {
		return "", err
	}
	if data.TaskID == "" {
		return "", internal.NewRemoteDataMissingError("data.task_id").
			WithProvider(q.Provider().Name()).
			WithStep("save")
	}
	return data.TaskID, nil
}

func (q *QuarkAdapter) createShare(ctx context.Context, fid, title, cookie string) (string, error) {
	var data quarkTask
	err := q.call(ctx, "share", &utils.Request{
		Method: http.MethodPost,
		URL:    q.cfg.BaseURL + "/1/clouddrive/share",
		Query:  q.commonQuery(),
		Cookie: cookie,
		JSON: map[string]interface{}{
			"fid_list":     []string{fid},
			"title":        title,
			"url_type":     1,
			"expired_type": 1,
		},
		Mutation: true,
	}, &data)
	if err != nil {
		return "", err
	}
	if data.TaskID == "" {
		return "", internal.NewRemoteDataMissingError("data.task_id").
			WithProvider(q.Provider().Name()).
			WithStep("share")
	}
	return data.TaskID, nil
}

func (q *QuarkAdapter) shareLink(ctx context.Context, shareID, cookie string) (string, error) {
	var data struct {
		ShareURL string `json:"share_url"`
	}
	err := q.call(ctx, "password", &utils.Request{
		Method: http.MethodPost,
		URL:    q.cfg.BaseURL + "/1/clouddrive/share/password",
		Query:  q.commonQuery(),
		Cookie: cookie,
		JSON:   map[string]string{"share_id": shareID},
	}, &data)
	if err != nil {
		return "", err
	}
	if data.ShareURL == "" {
		return "", internal.NewRemoteDataMissingError("data.share_url").
			WithProvider(q.Provider().Name()).
			WithStep("password")
	}
	return data.ShareURL, nil
}

// waitTask polls a task until its status turns non-zero
func (q *QuarkAdapter) waitTask(ctx context.Context, taskID, step, cookie string) (*quarkTask, error) {
	task, err := utils.PollUntil(ctx, q.cfg.Poller, taskID,
		func(ctx context.Context, attempt int) (*quarkTask, error) {
			query := q.commonQuery()
			query.Set("task_id", taskID)
			query.Set("retry_index", strconv.Itoa(attempt))
			query.Set("__dt", "21192")
			query.Set("__t", q.nonce())

			var data quarkTask
			err := q.call(ctx, step+"-task", &utils.Request{
				Method: http.MethodGet,
				URL:    q.cfg.BaseURL + "/1/clouddrive/task",
				Query:  query,
				Cookie: cookie,
			}, &data)
			if err != nil {
				return nil, err
			}
			return &data, nil
		},
		func(t *quarkTask) bool { return t != nil && t.Status != 0 },
	)
	if err != nil {
		return nil, internal.AsPanError(err, internal.ErrPollTimeout).
			WithProvider(q.Provider().Name()).
			WithStep(step)
	}
	return task, nil
}

// call sends r and decodes the data member of a successful envelope into out
func (q *QuarkAdapter) call(ctx context.Context, step string, r *utils.Request, out interface{}) error {
	if r.Header == nil {
		r.Header = map[string]string{
			"Origin":  "https://pan.quark.cn",
			"Referer": "https://pan.quark.cn/",
		}
	}

	resp, err := q.client.Do(ctx, r)
	if err != nil {
		return internal.AsPanError(err, internal.ErrTransport).
			WithProvider(q.Provider().Name()).
			WithStep(step)
	}

	var env quarkEnvelope
	if err := resp.DecodeJSON(&env); err != nil {
		return internal.AsPanError(err, internal.ErrRemoteProtocol).
			WithProvider(q.Provider().Name()).
			WithStep(step)
	}
	if env.Code != 0 {
		return quarkError(env.Code, env.Message, step)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return internal.NewRemoteDataMissingError("data").
			WithProvider(q.Provider().Name()).
			WithStep(step)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return internal.WrapPanError(err, "unexpected data shape", internal.ErrRemoteProtocol).
			WithProvider(q.Provider().Name()).
			WithStep(step)
	}
	return nil
}

func (q *QuarkAdapter) commonQuery() url.Values {
	return url.Values{
		"pr":           {"ucpro"},
		"fr":           {"pc"},
		"uc_param_str": {""},
	}
}

func (q *QuarkAdapter) nonce() string {
	return utils.NonceMillis(q.cfg.Now().UnixMilli())
}
