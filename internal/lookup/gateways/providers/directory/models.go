package directory

import (
	"strings"
	"time"

	"github.com/haukened/rr-lookup/internal/lookup/domain"
)

// Caller is one directory entry keyed by E.164 number.
type Caller struct {
	Number    string    `gorm:"primarykey;size:16;not null" json:"number"`
	Name      string    `gorm:"size:100" json:"name"`
	City      string    `gorm:"size:50" json:"city"`
	Country   string    `gorm:"size:50" json:"country"`
	Address   string    `gorm:"size:200" json:"address"`
	PhotoURL  string    `gorm:"size:255" json:"photo_url"`
	SpamCount int       `gorm:"not null;default:0" json:"spam_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Caller) TableName() string {
	return "callers"
}

// SanitizeFields trims whitespace from every text field.
func (c *Caller) SanitizeFields() {
	c.Number = strings.TrimSpace(c.Number)
	c.Name = strings.TrimSpace(c.Name)
	c.City = strings.TrimSpace(c.City)
	c.Country = strings.TrimSpace(c.Country)
	c.Address = strings.TrimSpace(c.Address)
	c.PhotoURL = strings.TrimSpace(c.PhotoURL)
}

// HasInfo reports whether the entry carries anything worth showing.
func (c Caller) HasInfo() bool {
	return c.Name != "" || c.City != "" || c.Country != "" || c.Address != "" || c.SpamCount > 0
}

// Response converts the entry into a lookup response attributed to provider.
func (c Caller) Response(provider string) *domain.LookupResponse {
	return &domain.LookupResponse{
		ProviderName: provider,
		Name:         c.Name,
		Number:       c.Number,
		City:         c.City,
		Country:      c.Country,
		Address:      c.Address,
		PhotoURL:     c.PhotoURL,
		SpamCount:    c.SpamCount,
		Status:       domain.StatusSuccess,
	}
}

// ContactNumber links a contact to one of its phone numbers.
type ContactNumber struct {
	ID        uint   `gorm:"primarykey"`
	ContactID int64  `gorm:"index;not null" json:"contact_id"`
	Number    string `gorm:"size:32;not null" json:"number"`
}

// TableName specifies the table name for GORM
func (ContactNumber) TableName() string {
	return "contact_numbers"
}
