package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"panshare/catalog"
	"panshare/internal"
)

type fakeAdapter struct {
	provider internal.ProviderIdentity
	scheme   internal.AddressingScheme

	mu          sync.Mutex
	result      *internal.ReshareResult
	storeErr    error
	deleteErr   error
	storeCalls  int
	deleteCalls int
	lastShare   internal.ShareReference
	lastDest    string
	lastHandle  internal.RemoteObjectHandle
	deleted     []string
}

func (f *fakeAdapter) Provider() internal.ProviderIdentity { return f.provider }

func (f *fakeAdapter) Handle(objectID string) internal.RemoteObjectHandle {
	return internal.RemoteObjectHandle{Provider: f.provider, Scheme: f.scheme, ID: objectID}
}

func (f *fakeAdapter) Store(_ context.Context, share internal.ShareReference, destDir, _ string) (*internal.ReshareResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storeCalls++
	f.lastShare = share
	f.lastDest = destDir
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	r := *f.result
	return &r, nil
}

func (f *fakeAdapter) Delete(_ context.Context, handle internal.RemoteObjectHandle, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	f.lastHandle = handle
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, handle.ID)
	return nil
}

type fakeCredentials map[internal.ProviderIdentity]error

func (f fakeCredentials) Credential(_ context.Context, p internal.ProviderIdentity) (string, error) {
	if err, ok := f[p]; ok {
		return "", err
	}
	return "cookie-for-" + p.Name(), nil
}

func quietLogger() *internal.SecureLogger {
	return internal.NewSecureLogger(io.Discard, internal.LogFormatConsole, internal.LogLevelError, false, true)
}

func newCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:transfer-test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	sqlDB, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := catalog.NewStore(bun.NewDB(sqlDB, sqlitedialect.New()))
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func quarkFake() *fakeAdapter {
	return &fakeAdapter{
		provider: internal.ProviderQuark,
		scheme:   internal.AddressByID,
		result: &internal.ReshareResult{
			Handle:   internal.RemoteObjectHandle{Provider: internal.ProviderQuark, Scheme: internal.AddressByID, ID: "999"},
			ShareURL: "https://pan.quark.cn/s/xyz?pwd=ab12",
		},
	}
}

func baiduFake() *fakeAdapter {
	return &fakeAdapter{
		provider: internal.ProviderBaidu,
		scheme:   internal.AddressByPath,
		result: &internal.ReshareResult{
			Handle:   internal.RemoteObjectHandle{Provider: internal.ProviderBaidu, Scheme: internal.AddressByPath, ID: "/saved/a.pdf"},
			ShareURL: "https://pan.baidu.com/s/1new?pwd=k3j9",
		},
	}
}

type harness struct {
	orch    *Orchestrator
	quark   *fakeAdapter
	baidu   *fakeAdapter
	catalog *catalog.Store
	sleeps  []time.Duration
}

func newHarness(t *testing.T, creds fakeCredentials) *harness {
	h := &harness{quark: quarkFake(), baidu: baiduFake(), catalog: newCatalog(t)}
	if creds == nil {
		creds = fakeCredentials{}
	}
	h.orch = NewOrchestrator(Options{
		Credentials:    creds,
		Adapters:       []internal.ProviderAdapter{h.quark, h.baidu},
		Catalog:        h.catalog,
		PostStoreDelay: 500 * time.Millisecond,
		Logger:         quietLogger(),
		Sleep:          func(_ context.Context, d time.Duration) { h.sleeps = append(h.sleeps, d) },
	})
	return h
}

func TestCreateShare_MinimalOutcome(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.orch.CreateShare(context.Background(), &internal.CreateShareRequest{
		ShareURL: "https://pan.quark.cn/s/abc123",
		SaveTo:   internal.DestinationPreferences{Quark: true, QuarkDir: "folder1", BaiduDir: "/ignored"},
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, internal.OutcomeMinimal, out.Kind)
	assert.Equal(t, "999", out.Share.ObjectID)
	assert.Equal(t, "https://pan.quark.cn/s/xyz?pwd=ab12", out.Share.ShareURL)
	assert.Equal(t, "abc123", h.quark.lastShare.Code)
	assert.Equal(t, "folder1", h.quark.lastDest)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, h.sleeps)
}

func TestCreateShare_PassThrough(t *testing.T) {
	tests := []struct {
		name string
		url  string
		save internal.DestinationPreferences
	}{
		{name: "unknown_provider", url: "https://example.com/s/abc", save: internal.DestinationPreferences{Quark: true, Baidu: true}},
		{name: "provider_not_selected", url: "https://pan.quark.cn/s/abc123", save: internal.DestinationPreferences{Baidu: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			req := &internal.CreateShareRequest{ShareURL: tt.url, SaveTo: tt.save}

			out, err := h.orch.CreateShare(context.Background(), req)
			require.NoError(t, err)
			require.NotNil(t, out)
			assert.Equal(t, internal.OutcomePassThrough, out.Kind)
			assert.Same(t, req, out.Request)

			id := int64(7)
			req.CatalogID = &id
			out, err = h.orch.CreateShare(context.Background(), req)
			require.NoError(t, err)
			assert.Nil(t, out)

			assert.Zero(t, h.quark.storeCalls+h.baidu.storeCalls)
		})
	}
}

func TestCreateShare_CredentialFailureSkipsAdapter(t *testing.T) {
	for _, errType := range []internal.ErrorType{internal.ErrCredentialMissing, internal.ErrCredentialMalformed} {
		t.Run(errType.String(), func(t *testing.T) {
			h := newHarness(t, fakeCredentials{
				internal.ProviderQuark: internal.NewPanError(401, "no cookie", errType),
			})

			out, err := h.orch.CreateShare(context.Background(), &internal.CreateShareRequest{
				ShareURL: "https://pan.quark.cn/s/abc123",
				SaveTo:   internal.DestinationPreferences{Quark: true},
			})
			assert.Nil(t, out)
			assert.True(t, internal.IsType(err, errType), "error = %v", err)
			assert.Zero(t, h.quark.storeCalls)
			assert.Empty(t, h.sleeps)
		})
	}
}

func TestCreateShare_UpdatesCatalogRow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	id, err := h.catalog.Insert(ctx, &internal.CatalogRecord{FileID: "/saved/old.pdf", Name: "a", ShareLink: "https://pan.baidu.com/s/1old", CloudName: "百度网盘"})
	require.NoError(t, err)

	out, err := h.orch.CreateShare(ctx, &internal.CreateShareRequest{
		ShareURL:  "https://pan.baidu.com/s/1old",
		SaveTo:    internal.DestinationPreferences{Baidu: true, BaiduDir: "/shared"},
		CatalogID: &id,
	})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, "/shared", h.baidu.lastDest)

	rec, err := h.catalog.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://pan.baidu.com/s/1new?pwd=k3j9", rec.ShareLink)
	assert.Equal(t, "/saved/a.pdf", rec.FileID)
	assert.True(t, rec.IsReplaced)
	assert.Equal(t, []string{"/saved/old.pdf"}, h.baidu.deleted, "the replaced object is deleted")
}

func TestCreateShare_SupersededCopyKeptWhenDeleteFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.baidu.deleteErr = internal.NewRemoteProtocolError(-9, "share passcode incorrect or share removed")

	id, err := h.catalog.Insert(ctx, &internal.CatalogRecord{FileID: "/saved/old.pdf", Name: "a", ShareLink: "https://pan.baidu.com/s/1old", CloudName: "百度网盘"})
	require.NoError(t, err)

	_, err = h.orch.CreateShare(ctx, &internal.CreateShareRequest{
		ShareURL:  "https://pan.baidu.com/s/1old",
		SaveTo:    internal.DestinationPreferences{Baidu: true},
		CatalogID: &id,
	})
	require.NoError(t, err)

	rec, err := h.catalog.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://pan.baidu.com/s/1new?pwd=k3j9", rec.ShareLink)
	assert.Equal(t, "/saved/a.pdf", rec.FileID)
	assert.Equal(t, "/saved/old.pdf", rec.PendingFileID)
	assert.True(t, rec.NeedsReview)
	assert.Contains(t, rec.ReviewNote, "/saved/old.pdf")
}

func TestCreateShare_MissingCatalogRow(t *testing.T) {
	h := newHarness(t, nil)
	id := int64(404)

	_, err := h.orch.CreateShare(context.Background(), &internal.CreateShareRequest{
		ShareURL:  "https://pan.quark.cn/s/abc123",
		SaveTo:    internal.DestinationPreferences{Quark: true},
		CatalogID: &id,
	})
	var pe *internal.PanError
	require.True(t, errors.As(err, &pe), "error = %v", err)
	assert.Equal(t, internal.ErrCatalog, pe.Type)
	assert.Equal(t, 404, pe.Code)
	assert.Zero(t, h.quark.storeCalls, "nothing is copied for a missing row")
}

func TestCreateShare_InsertsRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	out, err := h.orch.CreateShare(ctx, &internal.CreateShareRequest{
		ShareURL: "https://pan.quark.cn/s/abc123",
		Title:    "fallback title",
		SaveTo:   internal.DestinationPreferences{Quark: true},
		Display:  &internal.DisplayFields{Name: "Movie", ResourceType: "video", Remark: "hd"},
	})
	require.NoError(t, err)
	require.Equal(t, internal.OutcomeRecord, out.Kind)

	rec := out.Record
	assert.Positive(t, rec.ID)
	assert.Equal(t, "Movie", rec.Name)
	assert.Equal(t, "夸克网盘", rec.CloudName)
	assert.Equal(t, "999", rec.FileID)
	assert.Equal(t, "https://pan.quark.cn/s/xyz?pwd=ab12", rec.ShareLink)

	stored, err := h.catalog.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "video", stored.Type)
	assert.Equal(t, "hd", stored.Remarks)
}

func TestCreateShare_RemoteFailureLeavesCatalogUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.baidu.storeErr = internal.NewRemoteProtocolError(-9, "share passcode incorrect or share removed").
		WithProvider("baidu").
		WithStep("verify")

	_, err := h.orch.CreateShare(ctx, &internal.CreateShareRequest{
		ShareURL: "https://pan.baidu.com/s/1xyz pwd=a1b2",
		SaveTo:   internal.DestinationPreferences{Baidu: true},
		Display:  &internal.DisplayFields{Name: "x"},
	})

	var pe *internal.PanError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, internal.ErrRemoteProtocol, pe.Type)
	assert.Equal(t, -9, pe.Code)
	assert.Equal(t, "verify", pe.Step)
	assert.Equal(t, "a1b2", h.baidu.lastShare.Passcode)

	_, total, err := h.catalog.List(ctx, catalog.ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, h.sleeps)
}

func TestCreateShare_PartialSuccess(t *testing.T) {
	ctx := context.Background()
	mine := "https://pan.baidu.com/s/1mine?pwd=abcd"

	t.Run("existing_row_keeps_its_object", func(t *testing.T) {
		h := newHarness(t, nil)
		h.baidu.result = &internal.ReshareResult{Handle: h.baidu.Handle("/saved/a(1).pdf"), Partial: true}

		id, err := h.catalog.Insert(ctx, &internal.CatalogRecord{FileID: "/saved/old.pdf", Name: "a", ShareLink: mine, CloudName: "百度网盘"})
		require.NoError(t, err)

		_, err = h.orch.CreateShare(ctx, &internal.CreateShareRequest{
			ShareURL:  mine,
			SaveTo:    internal.DestinationPreferences{Baidu: true},
			CatalogID: &id,
		})
		assert.True(t, internal.IsType(err, internal.ErrPartialSuccess), "error = %v", err)

		rec, err := h.catalog.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.NeedsReview)
		assert.Equal(t, mine, rec.ShareLink)
		assert.Equal(t, "/saved/old.pdf", rec.FileID, "file id still names the object behind the link")
		assert.Equal(t, "/saved/a(1).pdf", rec.PendingFileID)
		assert.Empty(t, h.baidu.deleted)

		ok, err := h.orch.DeleteShare(ctx, &internal.DeleteShareRequest{ShareURL: mine})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.ElementsMatch(t, []string{"/saved/old.pdf", "/saved/a(1).pdf"}, h.baidu.deleted)

		_, found, err := h.catalog.FindByShareLink(ctx, mine)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("earlier_pending_copy_is_replaced", func(t *testing.T) {
		h := newHarness(t, nil)
		h.baidu.result = &internal.ReshareResult{Handle: h.baidu.Handle("/saved/a(2).pdf"), Partial: true}

		id, err := h.catalog.Insert(ctx, &internal.CatalogRecord{FileID: "/saved/old.pdf", PendingFileID: "/saved/a(1).pdf", Name: "a", ShareLink: mine, CloudName: "百度网盘"})
		require.NoError(t, err)

		_, err = h.orch.CreateShare(ctx, &internal.CreateShareRequest{
			ShareURL:  mine,
			SaveTo:    internal.DestinationPreferences{Baidu: true},
			CatalogID: &id,
		})
		assert.True(t, internal.IsType(err, internal.ErrPartialSuccess), "error = %v", err)
		assert.Equal(t, []string{"/saved/a(1).pdf"}, h.baidu.deleted)

		rec, err := h.catalog.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "/saved/old.pdf", rec.FileID)
		assert.Equal(t, "/saved/a(2).pdf", rec.PendingFileID)
	})

	t.Run("new_row_keeps_original_link", func(t *testing.T) {
		h := newHarness(t, nil)
		h.baidu.result = &internal.ReshareResult{Handle: h.baidu.Handle("/saved/a.pdf"), Partial: true}
		orig := "https://pan.baidu.com/s/1orig"

		_, err := h.orch.CreateShare(ctx, &internal.CreateShareRequest{
			ShareURL: orig,
			SaveTo:   internal.DestinationPreferences{Baidu: true},
			Display:  &internal.DisplayFields{Name: "report"},
		})
		assert.True(t, internal.IsType(err, internal.ErrPartialSuccess), "error = %v", err)

		rows, total, err := h.catalog.List(ctx, catalog.ListOptions{NeedsReview: true})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		assert.Equal(t, orig, rows[0].ShareLink)
		assert.Equal(t, "report", rows[0].Name)
		assert.Empty(t, rows[0].FileID, "the original link is not ours")
		assert.Equal(t, "/saved/a.pdf", rows[0].PendingFileID)

		ok, err := h.orch.DeleteShare(ctx, &internal.DeleteShareRequest{ShareURL: orig})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"/saved/a.pdf"}, h.baidu.deleted)
	})
}

func TestCreateShare_Validation(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.CreateShare(context.Background(), &internal.CreateShareRequest{})
	assert.True(t, internal.IsType(err, internal.ErrInvalidRequest), "error = %v", err)

	ok, err := h.orch.DeleteShare(context.Background(), &internal.DeleteShareRequest{})
	assert.False(t, ok)
	assert.True(t, internal.IsType(err, internal.ErrInvalidRequest), "error = %v", err)

	_, err = h.orch.CreateShare(context.Background(), &internal.CreateShareRequest{
		ShareURL: "https://pan.quark.cn/s/abc123",
		SaveTo:   internal.DestinationPreferences{Quark: true, QuarkDir: "/shared"},
	})
	assert.True(t, internal.IsType(err, internal.ErrInvalidRequest), "error = %v", err)

	_, err = h.orch.CreateShare(context.Background(), &internal.CreateShareRequest{
		ShareURL: "https://pan.baidu.com/s/1abc",
		SaveTo:   internal.DestinationPreferences{Baidu: true, BaiduDir: "shared"},
	})
	assert.True(t, internal.IsType(err, internal.ErrInvalidRequest), "error = %v", err)
	assert.Zero(t, h.quark.storeCalls+h.baidu.storeCalls)
}

func TestDeleteShare_RemovesCatalogRowOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	link := "https://pan.quark.cn/s/abc123"

	_, err := h.catalog.Insert(ctx, &internal.CatalogRecord{FileID: "999", Name: "a", ShareLink: link, CloudName: "夸克网盘"})
	require.NoError(t, err)

	ok, err := h.orch.DeleteShare(ctx, &internal.DeleteShareRequest{ShareURL: link, ObjectID: "999"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, h.quark.deleteCalls)
	assert.Equal(t, internal.RemoteObjectHandle{Provider: internal.ProviderQuark, Scheme: internal.AddressByID, ID: "999"}, h.quark.lastHandle)

	_, total, err := h.catalog.List(ctx, catalog.ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDeleteShare_ObjectIDFromCatalog(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	link := "https://pan.baidu.com/s/1new?pwd=k3j9"

	_, err := h.catalog.Insert(ctx, &internal.CatalogRecord{FileID: "/saved/a.pdf", Name: "a", ShareLink: link, CloudName: "百度网盘"})
	require.NoError(t, err)

	ok, err := h.orch.DeleteShare(ctx, &internal.DeleteShareRequest{ShareURL: link})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/saved/a.pdf", h.baidu.lastHandle.ID)
	assert.Equal(t, internal.AddressByPath, h.baidu.lastHandle.Scheme)

	_, err = h.orch.DeleteShare(ctx, &internal.DeleteShareRequest{ShareURL: link})
	assert.True(t, internal.IsType(err, internal.ErrInvalidRequest), "error = %v", err)
}

func TestDeleteShare_UnknownProvider(t *testing.T) {
	h := newHarness(t, nil)

	ok, err := h.orch.DeleteShare(context.Background(), &internal.DeleteShareRequest{ShareURL: "https://example.com/x", ObjectID: "1"})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteShare_RemoteFailureKeepsRow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	link := "https://pan.baidu.com/s/1xyz"
	h.baidu.deleteErr = internal.NewRemoteProtocolError(-9, "share passcode incorrect or share removed")

	_, err := h.catalog.Insert(ctx, &internal.CatalogRecord{FileID: "/a", Name: "a", ShareLink: link, CloudName: "百度网盘"})
	require.NoError(t, err)

	ok, err := h.orch.DeleteShare(ctx, &internal.DeleteShareRequest{ShareURL: link, ObjectID: "/a"})
	assert.False(t, ok)
	assert.True(t, internal.IsType(err, internal.ErrRemoteProtocol), "error = %v", err)

	_, total, err := h.catalog.List(ctx, catalog.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestDeleteShare_CredentialFailure(t *testing.T) {
	h := newHarness(t, fakeCredentials{internal.ProviderQuark: internal.NewCredentialMissingError("quark")})

	ok, err := h.orch.DeleteShare(context.Background(), &internal.DeleteShareRequest{ShareURL: "https://pan.quark.cn/s/abc123", ObjectID: "999"})
	assert.False(t, ok)
	assert.True(t, internal.IsType(err, internal.ErrCredentialMissing), "error = %v", err)
	assert.Zero(t, h.quark.deleteCalls)
}
