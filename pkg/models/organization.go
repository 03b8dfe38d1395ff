package models

import "time"

// Organization is the tenant boundary: a creator, a member roster and the tasklists it owns.
// Members and Tasklists are id sets; the authoritative records live in their own tables.
type Organization struct {
	ID        string    `json:"id"`
	Creator   string    `json:"creator"`
	Name      string    `json:"name"`
	Desc      string    `json:"desc"`
	Members   []string  `json:"members"`
	Tasklists []string  `json:"tasklist"`
	CreatedAt time.Time `json:"created_at"`
}

// HasMember reports whether userID is on the roster.
func (o *Organization) HasMember(userID string) bool {
	return ContainsID(o.Members, userID)
}

// Tasklist groups tasks under an organization. OrgID never changes after creation.
type Tasklist struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	OrgID     string    `json:"org_id"`
	Tasks     []string  `json:"tasks"`
	CreatedAt time.Time `json:"created_at"`
}
