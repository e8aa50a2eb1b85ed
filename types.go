package bamboo

import (
	"time"

	"github.com/eringen/bamboo/ssg"
)

// Media kinds accepted by the upload endpoint.
const (
	MediaImage  = "image"
	MediaSlides = "slides"
)

// Media is an uploaded file stored under Config.MediaDir.
type Media struct {
	ID          int64     `json:"id"`
	Path        string    `json:"path"` // file name relative to the media dir
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// SiteInput is the JSON body accepted by the site create and update endpoints.
// Nil fields are left unchanged on update.
type SiteInput struct {
	Name        *string         `json:"name"`
	TemplateURL *string         `json:"template_url"`
	Config      *map[string]any `json:"config"`
}

// SiteSummary is what the admin dashboard lists for each site.
type SiteSummary struct {
	Site      ssg.Site
	Installed bool
	Status    *ssg.SyncStatus
}
