// Package models defines types shared across internal packages.
package models

// Message is one stored notification received from the peer.
//
// Synced is false while a local read flip has not been pushed to the peer.
// Messages that were never read locally may also be unsynced; only the
// read && !synced combination is pending.
type Message struct {
	ID            string `json:"id"`
	CategoryID    string `json:"category_id"`
	SubCategoryID string `json:"sub_category_id"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	Timestamp     int64  `json:"timestamp"`
	IconPath      string `json:"icon_path,omitempty"`
	Read          bool   `json:"read"`
	Synced        bool   `json:"synced"`
}

// PendingSync reports whether the message is part of the pending-sync set.
func (m Message) PendingSync() bool {
	return m.Read && !m.Synced
}

// SubCategoryID builds the stored sub-category id for a category and a
// raw sub-category name. A blank sub-category yields an empty id.
func SubCategoryID(category, sub string) string {
	if isBlank(sub) {
		return ""
	}

	return category + "_" + sub
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}

	return true
}

// Category is the derived grouping of messages by category id.
type Category struct {
	ID            string        `json:"id" yaml:"id"`
	IconPath      string        `json:"icon_path,omitempty" yaml:"icon_path,omitempty"`
	Unread        int           `json:"unread" yaml:"unread"`
	Total         int           `json:"total" yaml:"total"`
	SubCategories []SubCategory `json:"sub_categories,omitempty" yaml:"sub_categories,omitempty"`
}

// SubCategory is the derived grouping of messages by sub-category id
// within one category.
type SubCategory struct {
	ID       string `json:"id" yaml:"id"`
	IconPath string `json:"icon_path,omitempty" yaml:"icon_path,omitempty"`
	Unread   int    `json:"unread" yaml:"unread"`
	Total    int    `json:"total" yaml:"total"`
}
