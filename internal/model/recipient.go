package model

// Recipient is the normalized form every source variant resolves into.
type Recipient struct {
	Email string `db:"email" json:"email"`
	Name  string `db:"name" json:"name"`
}

// RecipientList is a saved, reusable recipient list.
type RecipientList struct {
	ID   int    `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Subscriber belongs to a group and is addressable by group selection.
type Subscriber struct {
	ID      int    `db:"id" json:"id"`
	Email   string `db:"email" json:"email"`
	Name    string `db:"name" json:"name"`
	GroupID int    `db:"group_id" json:"group_id"`
}
