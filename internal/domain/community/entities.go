package community

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Housing is a rental listing near a university
type Housing struct {
	Base
	Title     string                      `json:"title" gorm:"column:title"`
	Address   string                      `json:"address" gorm:"column:address"`
	Rent      decimal.Decimal             `json:"rent" gorm:"column:rent;type:text"`
	Bedrooms  int                         `json:"bedrooms" gorm:"column:bedrooms"`
	Contact   string                      `json:"contact" gorm:"column:contact"`
	ImageURLs datatypes.JSONSlice[string] `json:"image_urls,omitempty" gorm:"column:image_urls"`
}

// TableName returns the table name for Housing
func (Housing) TableName() string { return "housing" }

// Restaurant is a store listing shown on the stores screen
type Restaurant struct {
	Base
	Name     string  `json:"name" gorm:"column:name"`
	Cuisine  string  `json:"cuisine" gorm:"column:cuisine"`
	Address  string  `json:"address" gorm:"column:address"`
	Phone    string  `json:"phone" gorm:"column:phone"`
	Rating   float64 `json:"rating" gorm:"column:rating"`
	ImageURL string  `json:"image_url" gorm:"column:image_url"`
}

// TableName returns the table name for Restaurant
func (Restaurant) TableName() string { return "restaurants" }

// Video is an orientation or community video
type Video struct {
	Base
	Title           string `json:"title" gorm:"column:title"`
	URL             string `json:"url" gorm:"column:url"`
	ThumbnailURL    string `json:"thumbnail_url" gorm:"column:thumbnail_url"`
	DurationSeconds int    `json:"duration_seconds" gorm:"column:duration_seconds"`
}

// TableName returns the table name for Video
func (Video) TableName() string { return "videos" }

// Post is a community feed entry
type Post struct {
	Base
	Author    string                      `json:"author" gorm:"column:author"`
	Content   string                      `json:"content" gorm:"column:content"`
	ImageURLs datatypes.JSONSlice[string] `json:"image_urls,omitempty" gorm:"column:image_urls"`
	PostedAt  *time.Time                  `json:"posted_at,omitempty" gorm:"column:posted_at"`
}

// TableName returns the table name for Post
func (Post) TableName() string { return "posts" }

// Announcement is a university-wide notice
type Announcement struct {
	Base
	Title       string     `json:"title" gorm:"column:title"`
	Body        string     `json:"body" gorm:"column:body"`
	Priority    string     `json:"priority" gorm:"column:priority"`
	PublishedAt *time.Time `json:"published_at,omitempty" gorm:"column:published_at"`
}

// TableName returns the table name for Announcement
func (Announcement) TableName() string { return "announcements" }

// Resource is a link to a useful document or service
type Resource struct {
	Base
	Title       string `json:"title" gorm:"column:title"`
	Category    string `json:"category" gorm:"column:category"`
	URL         string `json:"url" gorm:"column:url"`
	Description string `json:"description" gorm:"column:description"`
}

// TableName returns the table name for Resource
func (Resource) TableName() string { return "resources" }

// ScamWatchGroup tracks a reported scam channel
type ScamWatchGroup struct {
	Base
	Name        string `json:"name" gorm:"column:name"`
	Description string `json:"description" gorm:"column:description"`
	Platform    string `json:"platform" gorm:"column:platform"`
	Link        string `json:"link" gorm:"column:link"`
	ReportCount int    `json:"report_count" gorm:"column:report_count"`
}

// TableName returns the table name for ScamWatchGroup
func (ScamWatchGroup) TableName() string { return "scam_groups" }

// CommunityGroup is a student-run group or chat
type CommunityGroup struct {
	Base
	Name        string                      `json:"name" gorm:"column:name"`
	Description string                      `json:"description" gorm:"column:description"`
	Category    string                      `json:"category" gorm:"column:category"`
	Link        string                      `json:"link" gorm:"column:link"`
	MemberCount int                         `json:"member_count" gorm:"column:member_count"`
	Tags        datatypes.JSONSlice[string] `json:"tags,omitempty" gorm:"column:tags"`
}

// TableName returns the table name for CommunityGroup
func (CommunityGroup) TableName() string { return "community_groups" }

// HealthInsuranceProvider is a student health plan offer
type HealthInsuranceProvider struct {
	Base
	Name           string          `json:"name" gorm:"column:name"`
	PlanName       string          `json:"plan_name" gorm:"column:plan_name"`
	MonthlyPremium decimal.Decimal `json:"monthly_premium" gorm:"column:monthly_premium;type:text"`
	Coverage       string          `json:"coverage" gorm:"column:coverage"`
	Website        string          `json:"website" gorm:"column:website"`
	Phone          string          `json:"phone" gorm:"column:phone"`
}

// TableName returns the table name for HealthInsuranceProvider
func (HealthInsuranceProvider) TableName() string { return "health_insurance" }

// Lawyer is an immigration or tenancy lawyer listing.
// Lawyers are fetched by their own screen and are not part of the login bundle.
type Lawyer struct {
	Base
	Name      string                      `json:"name" gorm:"column:name"`
	Firm      string                      `json:"firm" gorm:"column:firm"`
	Specialty string                      `json:"specialty" gorm:"column:specialty"`
	Phone     string                      `json:"phone" gorm:"column:phone"`
	Email     string                      `json:"email" gorm:"column:email"`
	Languages datatypes.JSONSlice[string] `json:"languages,omitempty" gorm:"column:languages"`
}

// TableName returns the table name for Lawyer
func (Lawyer) TableName() string { return "lawyers" }
