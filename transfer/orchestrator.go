package transfer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"panshare/internal"
	"panshare/utils"
)

// CredentialSource hands out a usable session cookie per provider
type CredentialSource interface {
	Credential(ctx context.Context, p internal.ProviderIdentity) (string, error)
}

// Options wires an Orchestrator
type Options struct {
	Classifier     *utils.LinkClassifier
	Credentials    CredentialSource
	Adapters       []internal.ProviderAdapter
	Catalog        internal.CatalogStore
	PostStoreDelay time.Duration
	Observer       Observer
	Logger         *internal.SecureLogger
	// Sleep replaces the post-store pause; tests set it to skip waiting
	Sleep func(ctx context.Context, d time.Duration)
	Now   func() time.Time
}

// Orchestrator routes share requests to the provider adapter a link belongs
// to and keeps the catalog in step with the outcome. It holds no per-call
// state; concurrent calls for independent links are safe.
type Orchestrator struct {
	classifier     *utils.LinkClassifier
	credentials    CredentialSource
	adapters       map[internal.ProviderIdentity]internal.ProviderAdapter
	catalog        internal.CatalogStore
	postStoreDelay time.Duration
	observer       Observer
	logger         *internal.SecureLogger
	sleep          func(ctx context.Context, d time.Duration)
	now            func() time.Time
}

// NewOrchestrator creates an orchestrator from opts
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		classifier:     opts.Classifier,
		credentials:    opts.Credentials,
		adapters:       make(map[internal.ProviderIdentity]internal.ProviderAdapter),
		catalog:        opts.Catalog,
		postStoreDelay: opts.PostStoreDelay,
		observer:       opts.Observer,
		logger:         opts.Logger,
		sleep:          opts.Sleep,
		now:            opts.Now,
	}
	for _, a := range opts.Adapters {
		o.adapters[a.Provider()] = a
	}
	if o.classifier == nil {
		o.classifier = utils.NewLinkClassifier()
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if o.logger == nil {
		o.logger = internal.GetLogger()
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// CreateShare re-hosts the shared object under the operator's account.
//
// A link of an unknown provider, or one whose provider was not selected, is
// passed through: the request comes back unchanged when it carries no catalog
// id, and nothing is returned otherwise. After a successful store a request
// with a catalog id updates that row and returns nil; one with display fields
// inserts a new row and returns it; any other returns the bare new share.
func (o *Orchestrator) CreateShare(ctx context.Context, req *internal.CreateShareRequest) (*internal.CreateShareOutcome, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	provider := o.classifier.Classify(req.ShareURL)
	if provider == internal.ProviderUnknown || !req.SaveTo.Enabled(provider) {
		o.logger.Info("no re-hosting needed for %s", req.ShareURL)
		if req.CatalogID != nil {
			return nil, nil
		}
		return &internal.CreateShareOutcome{Kind: internal.OutcomePassThrough, Request: req}, nil
	}

	opLog := o.opLogger(provider, req.ShareURL, "store")

	// read the row first; a missing row must not cost a remote copy
	var prev *internal.CatalogRecord
	if req.CatalogID != nil {
		rec, err := o.catalog.Get(ctx, *req.CatalogID)
		if err != nil {
			return nil, o.fail(opLog, catalogLookupError(err, *req.CatalogID), provider, req.ShareURL)
		}
		prev = rec
	}

	result, err := o.Store(ctx, req.ShareURL, req.SaveTo.DirFor(provider))
	if err != nil {
		if internal.IsType(err, internal.ErrPartialSuccess) && result != nil {
			return nil, o.recordPartial(ctx, opLog, req, prev, provider, result, err)
		}
		return nil, err
	}

	// give the provider a moment before the next call against the same account
	o.sleep(ctx, o.postStoreDelay)

	switch {
	case req.CatalogID != nil:
		ok, err := o.catalog.UpdateShareLink(ctx, *req.CatalogID, result.ShareURL, result.Handle.ID)
		if err != nil {
			return nil, o.fail(opLog, internal.WrapPanError(err, "failed to update catalog row", internal.ErrCatalog), provider, req.ShareURL)
		}
		if !ok {
			return nil, o.fail(opLog, missingRowError(*req.CatalogID), provider, req.ShareURL)
		}
		opLog.Info("catalog row %d now points at %s", *req.CatalogID, result.ShareURL)
		o.retireSuperseded(ctx, opLog, provider, prev, result.Handle.ID)
		return nil, nil

	case req.Display != nil:
		rec := o.newRecord(req, provider, result.Handle.ID, result.ShareURL)
		id, err := o.catalog.Insert(ctx, rec)
		if err != nil {
			return nil, o.fail(opLog, internal.WrapPanError(err, "failed to insert catalog row", internal.ErrCatalog), provider, req.ShareURL)
		}
		rec.ID = id
		opLog.Info("catalog row %d added for %q", id, rec.Name)
		return &internal.CreateShareOutcome{Kind: internal.OutcomeRecord, Record: rec}, nil

	default:
		return &internal.CreateShareOutcome{
			Kind:  internal.OutcomeMinimal,
			Share: &internal.MinimalShare{ShareURL: result.ShareURL, ObjectID: result.Handle.ID},
		}, nil
	}
}

// Store resolves credentials and delegates to the adapter owning shareURL.
// A partial copy returns both the result and an ErrPartialSuccess error.
func (o *Orchestrator) Store(ctx context.Context, shareURL, destDir string) (*internal.ReshareResult, error) {
	provider := o.classifier.Classify(shareURL)
	adapter, ok := o.adapters[provider]
	if !ok {
		return nil, internal.NewPanError(0, "unsupported share link", internal.ErrInvalidRequest).
			WithURL(shareURL).
			WithStep("classify")
	}
	opLog := o.opLogger(provider, shareURL, "store")

	cookie, err := o.credentials.Credential(ctx, provider)
	if err != nil {
		return nil, o.fail(opLog, internal.AsPanError(err, internal.ErrCredentialMissing), provider, shareURL)
	}

	share := o.classifier.ParseShare(shareURL)
	start := o.now()
	result, err := adapter.Store(ctx, share, destDir, cookie)
	if err == nil && result.Partial {
		err = internal.NewPartialSuccessError(result.Handle.ID).
			WithProvider(provider.Name()).
			WithStep("locate")
	}
	o.observer.RecordStore(provider, o.now().Sub(start), err)

	if err != nil {
		pe := o.fail(opLog, internal.AsPanError(err, internal.ErrTransport), provider, shareURL)
		if pe.Type == internal.ErrPartialSuccess {
			return result, pe
		}
		return nil, pe
	}

	opLog.Info("stored as %s, new share %s", result.Handle.ID, result.ShareURL)
	return result, nil
}

// DeleteShare removes the hosted object behind a share link, any pending copy
// recorded on its catalog row, and then the row. Links of unknown providers
// report false without error. A missing object id is looked up in the catalog
// by share link.
func (o *Orchestrator) DeleteShare(ctx context.Context, req *internal.DeleteShareRequest) (bool, error) {
	if err := validateRequest(req); err != nil {
		return false, err
	}

	provider := o.classifier.Classify(req.ShareURL)
	adapter, ok := o.adapters[provider]
	if !ok {
		o.logger.Warn("%s is not a supported share link, skipping delete", req.ShareURL)
		return false, nil
	}
	opLog := o.opLogger(provider, req.ShareURL, "delete")

	rec, found, err := o.catalog.FindByShareLink(ctx, req.ShareURL)
	if err != nil {
		return false, o.fail(opLog, internal.WrapPanError(err, "failed to look up catalog row", internal.ErrCatalog), provider, req.ShareURL)
	}

	objectID := req.ObjectID
	var pending string
	if found {
		if objectID == "" {
			objectID = rec.FileID
		}
		if rec.PendingFileID != objectID {
			pending = rec.PendingFileID
		}
	}
	if objectID == "" && pending == "" {
		return false, o.fail(opLog, internal.NewPanError(0, "no object id known for share link", internal.ErrInvalidRequest).WithStep("delete"), provider, req.ShareURL)
	}

	cookie, err := o.credentials.Credential(ctx, provider)
	if err != nil {
		return false, o.fail(opLog, internal.AsPanError(err, internal.ErrCredentialMissing), provider, req.ShareURL)
	}

	// pending copy first; the row stays until every object it names is gone
	for _, id := range []string{pending, objectID} {
		if id == "" {
			continue
		}
		if err := o.deleteObject(ctx, adapter, cookie, id); err != nil {
			return false, o.fail(opLog, internal.AsPanError(err, internal.ErrTransport).WithContext("object_id", id), provider, req.ShareURL)
		}
	}

	n, err := o.catalog.DeleteByShareLink(ctx, req.ShareURL)
	if err != nil {
		return false, o.fail(opLog, internal.WrapPanError(err, "remote object deleted but catalog row was kept", internal.ErrCatalog).
			WithContext("object_id", objectID), provider, req.ShareURL)
	}
	if n == 0 {
		opLog.Warn("no catalog row held %s", req.ShareURL)
	}

	opLog.Info("deleted %s and %d catalog row(s)", strings.TrimSpace(pending+" "+objectID), n)
	return true, nil
}

// recordPartial flags the copied-but-unshared object for review. An existing
// row keeps its link and file id and records the copy as pending, replacing an
// older pending copy; otherwise a row is created holding the original link.
func (o *Orchestrator) recordPartial(ctx context.Context, opLog *internal.SecureLogger, req *internal.CreateShareRequest, prev *internal.CatalogRecord, provider internal.ProviderIdentity, result *internal.ReshareResult, cause error) error {
	copyID := result.Handle.ID
	note := fmt.Sprintf("copied to %s but no new share could be created", copyID)

	if prev != nil {
		if leftover := o.retire(ctx, opLog, provider, copyID, prev.PendingFileID); len(leftover) > 0 {
			note += fmt.Sprintf("; earlier copy %s could not be deleted", strings.Join(leftover, ", "))
		}
		if _, err := o.catalog.FlagForReview(ctx, prev.ID, copyID, note); err != nil {
			return o.fail(opLog, internal.WrapPanError(err, "failed to flag catalog row", internal.ErrCatalog).
				WithContext("object_id", copyID), provider, req.ShareURL)
		}
		opLog.Warn("catalog row %d flagged for review", prev.ID)
		return cause
	}

	rec := o.newRecord(req, provider, "", req.ShareURL)
	rec.PendingFileID = copyID
	rec.NeedsReview = true
	rec.ReviewNote = note
	id, err := o.catalog.Insert(ctx, rec)
	if err != nil {
		return o.fail(opLog, internal.WrapPanError(err, "failed to record partial copy", internal.ErrCatalog).
			WithContext("object_id", copyID), provider, req.ShareURL)
	}
	opLog.Warn("catalog row %d created for review", id)
	return internal.AsPanError(cause, internal.ErrPartialSuccess).WithContext("catalog_id", id)
}

// retireSuperseded deletes the objects a row addressed before it was pointed
// at current. Objects that cannot be deleted stay on the row as pending.
func (o *Orchestrator) retireSuperseded(ctx context.Context, opLog *internal.SecureLogger, provider internal.ProviderIdentity, prev *internal.CatalogRecord, current string) {
	leftover := o.retire(ctx, opLog, provider, current, prev.FileID, prev.PendingFileID)
	if len(leftover) == 0 {
		return
	}
	note := fmt.Sprintf("superseded copy %s could not be deleted", strings.Join(leftover, ", "))
	if _, err := o.catalog.FlagForReview(ctx, prev.ID, leftover[0], note); err != nil {
		opLog.Error("failed to record superseded copies %v of row %d: %v", leftover, prev.ID, err)
		return
	}
	opLog.Warn("catalog row %d flagged for review: %s", prev.ID, note)
}

// retire deletes every non-empty id other than keep and returns the ids that
// are still on the remote side
func (o *Orchestrator) retire(ctx context.Context, opLog *internal.SecureLogger, provider internal.ProviderIdentity, keep string, ids ...string) []string {
	var targets []string
	for _, id := range ids {
		if id != "" && id != keep && !slices.Contains(targets, id) {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	adapter := o.adapters[provider]
	cookie, err := o.credentials.Credential(ctx, provider)
	if err != nil {
		opLog.Warn("cannot delete superseded copies %v: %v", targets, err)
		return targets
	}

	var leftover []string
	for _, id := range targets {
		if err := o.deleteObject(ctx, adapter, cookie, id); err != nil {
			opLog.Warn("failed to delete superseded copy %s: %v", id, err)
			leftover = append(leftover, id)
			continue
		}
		opLog.Info("deleted superseded copy %s", id)
	}
	return leftover
}

func (o *Orchestrator) deleteObject(ctx context.Context, adapter internal.ProviderAdapter, cookie, objectID string) error {
	start := o.now()
	err := adapter.Delete(ctx, adapter.Handle(objectID), cookie)
	o.observer.RecordDelete(adapter.Provider(), o.now().Sub(start), err)
	return err
}

// catalogLookupError maps a failed row lookup to ErrCatalog, 404 when absent
func catalogLookupError(err error, id int64) *internal.PanError {
	if errors.Is(err, internal.ErrRecordNotFound) {
		return missingRowError(id)
	}
	return internal.WrapPanError(err, "failed to read catalog row", internal.ErrCatalog)
}

// missingRowError concerns a single request, not the catalog as a whole
func missingRowError(id int64) *internal.PanError {
	return internal.NewPanError(404, fmt.Sprintf("catalog row %d not found", id), internal.ErrCatalog).
		WithSeverity(internal.SeverityError)
}

func (o *Orchestrator) newRecord(req *internal.CreateShareRequest, provider internal.ProviderIdentity, fileID, shareLink string) *internal.CatalogRecord {
	rec := &internal.CatalogRecord{
		FileID:    fileID,
		Name:      req.Title,
		ShareLink: shareLink,
		CloudName: provider.DisplayName(),
	}
	if d := req.Display; d != nil {
		if d.Name != "" {
			rec.Name = d.Name
		}
		if d.CloudName != "" {
			rec.CloudName = d.CloudName
		}
		rec.Type = d.ResourceType
		rec.Remarks = d.Remark
	}
	if rec.Name == "" {
		rec.Name = fmt.Sprintf("未命名资源_%d", o.now().Unix())
	}
	return rec
}

func (o *Orchestrator) opLogger(provider internal.ProviderIdentity, shareURL, op string) *internal.SecureLogger {
	return o.logger.WithFields(map[string]interface{}{
		"op_id":    uuid.NewString(),
		"op":       op,
		"provider": provider.Name(),
		"url":      shareURL,
	})
}

// fail logs err once with its step and returns it as a PanError
func (o *Orchestrator) fail(opLog *internal.SecureLogger, err *internal.PanError, provider internal.ProviderIdentity, shareURL string) *internal.PanError {
	if err.Provider == "" {
		err = err.WithProvider(provider.Name())
	}
	if err.URL == "" {
		err = err.WithURL(shareURL)
	}
	internal.LogPanError(opLog, err)
	return err
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
