package document

import (
	"errors"
	"slices"
	"time"
)

// ErrCommentNotFound is returned when a comment id is unknown to the document.
var ErrCommentNotFound = errors.New("comment not found")

// Comment is an annotation anchored to a character offset. Replies share the
// same shape but never carry replies of their own.
//
// Position is recorded once and is not moved by later edits.
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Timestamp time.Time `json:"timestamp"`
	Position  int       `json:"position"`
	Content   string    `json:"content"`
	Replies   []Comment `json:"replies"`
	Resolved  bool      `json:"resolved"`
}

func (c Comment) clone() Comment {
	c.Replies = slices.Clone(c.Replies)
	if c.Replies == nil {
		c.Replies = []Comment{}
	}

	return c
}

// AddComment appends a top-level comment.
func (d *Document) AddComment(c Comment) {
	c.Replies = nil
	d.comments = append(d.comments, c)
}

// AddReply attaches a reply to the thread containing parentID. Replying to a
// reply attaches to that reply's thread root. It returns the thread root id.
func (d *Document) AddReply(parentID string, reply Comment) (string, error) {
	root := d.threadRoot(parentID)
	if root == nil {
		return "", ErrCommentNotFound
	}

	reply.Replies = nil
	root.Replies = append(root.Replies, reply)

	return root.ID, nil
}

// Resolve marks a comment or reply as resolved. It reports whether the flag
// changed, so resolving twice is a no-op.
func (d *Document) Resolve(commentID string) (bool, error) {
	c := d.find(commentID)
	if c == nil {
		return false, ErrCommentNotFound
	}

	if c.Resolved {
		return false, nil
	}

	c.Resolved = true

	return true, nil
}

// Comment returns a copy of a comment or reply.
func (d *Document) Comment(commentID string) (Comment, error) {
	c := d.find(commentID)
	if c == nil {
		return Comment{}, ErrCommentNotFound
	}

	return c.clone(), nil
}

// threadRoot returns the top-level comment that is or contains id.
func (d *Document) threadRoot(id string) *Comment {
	for i := range d.comments {
		root := &d.comments[i]
		if root.ID == id {
			return root
		}

		for _, r := range root.Replies {
			if r.ID == id {
				return root
			}
		}
	}

	return nil
}

func (d *Document) find(id string) *Comment {
	for i := range d.comments {
		root := &d.comments[i]
		if root.ID == id {
			return root
		}

		for j := range root.Replies {
			if root.Replies[j].ID == id {
				return &root.Replies[j]
			}
		}
	}

	return nil
}
