package views

import "time"

// SiteRow is one line of the admin dashboard.
type SiteRow struct {
	ID          int64
	Name        string
	TemplateURL string
	Installed   bool // the site has a template subtree on disk
	Synced      bool // a sync has been attempted since startup
	SyncOK      bool
	SyncError   string
	SyncedAt    time.Time
}
