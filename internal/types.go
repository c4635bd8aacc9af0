package internal

import (
	"strings"
	"time"
)

// ProviderIdentity identifies one of the supported cloud-storage providers
type ProviderIdentity int

const (
	ProviderUnknown ProviderIdentity = iota
	// ProviderQuark mutates asynchronously and must be polled through task ids
	ProviderQuark
	// ProviderBaidu exposes share structure only through the share page HTML
	ProviderBaidu
)

// Name returns the key used for credential lookup
func (p ProviderIdentity) Name() string {
	switch p {
	case ProviderQuark:
		return "quark"
	case ProviderBaidu:
		return "baidu"
	default:
		return "unknown"
	}
}

// DisplayName returns the cloud name stored in catalog rows
func (p ProviderIdentity) DisplayName() string {
	switch p {
	case ProviderQuark:
		return "夸克网盘"
	case ProviderBaidu:
		return "百度网盘"
	default:
		return "其他"
	}
}

func (p ProviderIdentity) String() string {
	return p.Name()
}

// ParseProvider maps a credential key back to a provider
func ParseProvider(name string) ProviderIdentity {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "quark", "夸克网盘":
		return ProviderQuark
	case "baidu", "百度网盘":
		return ProviderBaidu
	default:
		return ProviderUnknown
	}
}

// AddressingScheme tells how a provider addresses objects in the operator's account
type AddressingScheme int

const (
	AddressByID AddressingScheme = iota
	AddressByPath
)

func (s AddressingScheme) String() string {
	if s == AddressByPath {
		return "path"
	}
	return "id"
}

// ShareReference is a remote share before it is owned by this system
type ShareReference struct {
	URL      string `json:"url"`
	Code     string `json:"code"`
	Passcode string `json:"passcode,omitempty"`
}

// RemoteObjectHandle identifies an object copied into the operator's account.
// ID is only meaningful to the adapter of Provider.
type RemoteObjectHandle struct {
	Provider ProviderIdentity `json:"provider"`
	Scheme   AddressingScheme `json:"scheme"`
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Kind     string           `json:"kind,omitempty"`
}

// ReshareResult is the terminal artifact of a store-and-reshare operation
type ReshareResult struct {
	Handle   RemoteObjectHandle `json:"handle"`
	ShareURL string             `json:"share_url"`
	// Partial is set when the object was copied but its new identity is unknown
	Partial bool `json:"partial,omitempty"`
}

// CatalogRecord is one resource hosted by this system
type CatalogRecord struct {
	ID            int64     `json:"id"`
	FileID        string    `json:"file_id"`
	// PendingFileID is an operator-owned copy not reachable through ShareLink
	PendingFileID string    `json:"pending_file_id,omitempty"`
	Name          string    `json:"name"`
	ShareLink     string    `json:"share_link"`
	CloudName     string    `json:"cloud_name"`
	Type          string    `json:"type,omitempty"`
	Remarks       string    `json:"remarks,omitempty"`
	IsReplaced    bool      `json:"is_replaced"`
	NeedsReview   bool      `json:"needs_review"`
	ReviewNote    string    `json:"review_note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DestinationPreferences selects which providers a share may be re-hosted on
type DestinationPreferences struct {
	Quark bool `json:"quark"`
	Baidu bool `json:"baidu"`
	// QuarkDir is a Quark folder fid, BaiduDir an absolute Baidu path
	QuarkDir string `json:"quark_dir,omitempty" validate:"omitempty,alphanum,max=64"`
	BaiduDir string `json:"baidu_dir,omitempty" validate:"omitempty,startswith=/,max=1024"`
}

// Enabled reports whether re-hosting on p was requested
func (d DestinationPreferences) Enabled(p ProviderIdentity) bool {
	switch p {
	case ProviderQuark:
		return d.Quark
	case ProviderBaidu:
		return d.Baidu
	default:
		return false
	}
}

// DirFor returns the destination requested for p, empty for the adapter default
func (d DestinationPreferences) DirFor(p ProviderIdentity) string {
	switch p {
	case ProviderQuark:
		return d.QuarkDir
	case ProviderBaidu:
		return d.BaiduDir
	default:
		return ""
	}
}

// DisplayFields are the catalog columns supplied by a caller discovering a new resource
type DisplayFields struct {
	Name         string `json:"name,omitempty"`
	CloudName    string `json:"cloud_name,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	Remark       string `json:"remark,omitempty"`
}

// CreateShareRequest asks for a share to be re-hosted
type CreateShareRequest struct {
	ShareURL  string                 `json:"share_url" validate:"required,max=2048"`
	Title     string                 `json:"title,omitempty"`
	SaveTo    DestinationPreferences `json:"save_to_netdisk"`
	CatalogID *int64                 `json:"id,omitempty"`
	Display   *DisplayFields         `json:"display,omitempty"`
}

// DeleteShareRequest asks for a hosted object to be torn down
type DeleteShareRequest struct {
	ShareURL string `json:"share_url" validate:"required,max=2048"`
	ObjectID string `json:"file_id"`
}

// OutcomeKind discriminates CreateShare payloads
type OutcomeKind int

const (
	OutcomePassThrough OutcomeKind = iota
	OutcomeRecord
	OutcomeMinimal
)

// MinimalShare is returned when no catalog fields were supplied
type MinimalShare struct {
	ShareURL string `json:"share_url"`
	ObjectID string `json:"file_id"`
}

// CreateShareOutcome is the payload of a CreateShare call without a catalog id
type CreateShareOutcome struct {
	Kind    OutcomeKind         `json:"kind"`
	Request *CreateShareRequest `json:"request,omitempty"`
	Record  *CatalogRecord      `json:"record,omitempty"`
	Share   *MinimalShare       `json:"share,omitempty"`
}
