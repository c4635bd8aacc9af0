package catalog

import (
	"time"

	"github.com/uptrace/bun"

	"panshare/internal"
)

type resourceRecord struct {
	bun.BaseModel `bun:"table:resources,alias:r"`

	ID            int64     `bun:"id,pk,autoincrement"`
	FileID        string    `bun:"file_id"`
	PendingFileID string    `bun:"pending_file_id"`
	Name          string    `bun:"name,notnull"`
	ShareLink     string    `bun:"share_link,notnull"`
	CloudName     string    `bun:"cloud_name,notnull"`
	Type          string    `bun:"type"`
	Remarks       string    `bun:"remarks"`
	IsReplaced    bool      `bun:"is_replaced,notnull,default:false"`
	NeedsReview   bool      `bun:"needs_review,notnull,default:false"`
	ReviewNote    string    `bun:"review_note"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type credentialRecord struct {
	bun.BaseModel `bun:"table:cookie_config,alias:cc"`

	ID        int64     `bun:"id,pk,autoincrement"`
	CloudName string    `bun:"cloud_name,notnull,unique"`
	Cookie    string    `bun:"cookie,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newResourceRecord(rec *internal.CatalogRecord, now time.Time) *resourceRecord {
	return &resourceRecord{
		FileID:        rec.FileID,
		PendingFileID: rec.PendingFileID,
		Name:          rec.Name,
		ShareLink:     rec.ShareLink,
		CloudName:     rec.CloudName,
		Type:          rec.Type,
		Remarks:       rec.Remarks,
		IsReplaced:    rec.IsReplaced,
		NeedsReview:   rec.NeedsReview,
		ReviewNote:    rec.ReviewNote,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (r *resourceRecord) toDomain() *internal.CatalogRecord {
	return &internal.CatalogRecord{
		ID:            r.ID,
		FileID:        r.FileID,
		PendingFileID: r.PendingFileID,
		Name:          r.Name,
		ShareLink:     r.ShareLink,
		CloudName:     r.CloudName,
		Type:          r.Type,
		Remarks:       r.Remarks,
		IsReplaced:    r.IsReplaced,
		NeedsReview:   r.NeedsReview,
		ReviewNote:    r.ReviewNote,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}
