package store

import "time"

// Gorm models backing the embedded store. Collections map 1:1 onto these
// tables; runtime access goes through generic Record maps keyed by column
// name.

// VisitorModel is the durable visitor identity.
type VisitorModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	SiteID      string `gorm:"index;not null"`
	Fingerprint string `gorm:"uniqueIndex;size:64;not null"`
	UserID      string `gorm:"index"`
	Name        string
	Email       string
	Phone       string
	Metadata    string    `gorm:"type:text"`
	FirstSeen   time.Time `gorm:"column:first_seen"`
	LastSeen    time.Time `gorm:"column:last_seen"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (VisitorModel) TableName() string { return CollectionVisitors }

// SessionModel represents one visit.
type SessionModel struct {
	ID           string `gorm:"primaryKey;size:36"`
	SiteID       string `gorm:"index;not null"`
	VisitorID    string `gorm:"index;not null"`
	Browser      string
	OS           string
	Device       string
	EntryPath    string
	ExitPath     string
	Referrer     string
	ScreenWidth  int
	ScreenHeight int
	Language     string
	Country      string
	IPAddress    string `gorm:"column:ip_address"`
	Engaged      bool
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
}

func (SessionModel) TableName() string { return CollectionSessions }

// EventModel is an immutable tracked fact.
type EventModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	SiteID    string `gorm:"index;not null"`
	SessionID string `gorm:"index;not null"`
	Type      string `gorm:"index;not null"`
	Path      string
	Name      string    `gorm:"index"`
	Data      string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

func (EventModel) TableName() string { return CollectionEvents }

// ErrorModel is a deduplicated JavaScript error.
type ErrorModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	SiteID    string `gorm:"index;not null"`
	Hash      string `gorm:"uniqueIndex;size:64;not null"`
	SessionID string
	Message   string `gorm:"type:text"`
	Stack     string `gorm:"type:text"`
	URL       string
	Count     int64
	FirstSeen time.Time `gorm:"column:first_seen"`
	LastSeen  time.Time `gorm:"column:last_seen"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ErrorModel) TableName() string { return CollectionErrors }

// SummaryModel is a per-site, per-UTC-day rollup. Breakdown maps are stored
// as JSON text.
type SummaryModel struct {
	ID              string `gorm:"primaryKey;size:36"`
	SiteID          string `gorm:"uniqueIndex:idx_site_date;not null"`
	Date            string `gorm:"uniqueIndex:idx_site_date;size:10;not null"`
	PageViews       int64
	Visitors        int64
	NewVisitors     int64
	ReturningVisits int64
	EngagedSessions int64
	ErrorCount      int64
	Pages           string `gorm:"type:text"`
	Referrers       string `gorm:"type:text"`
	Devices         string `gorm:"type:text"`
	Browsers        string `gorm:"type:text"`
	Languages       string `gorm:"type:text"`
	Countries       string `gorm:"type:text"`
	Events          string `gorm:"type:text"`
	Errors          string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (SummaryModel) TableName() string { return CollectionSummaries }

// SiteModel carries the live site configuration the pipeline subscribes to.
type SiteModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	SiteID      string `gorm:"uniqueIndex;not null"`
	Domain      string
	Archived    bool
	IPBlacklist string `gorm:"type:text"`
	StoreRawIPs bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (SiteModel) TableName() string { return CollectionSites }
