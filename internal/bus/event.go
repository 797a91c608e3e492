// Package bus fans engine events out to observers.
package bus

import (
	"time"

	"github.com/serroba/collab-notes/internal/document"
	"github.com/serroba/collab-notes/internal/ot"
)

// Kind names an event variant.
type Kind string

const (
	KindDocumentCreated Kind = "documentCreated"
	KindUserJoined      Kind = "userJoined"
	KindUserLeft        Kind = "userLeft"
	KindChangeApplied   Kind = "changeApplied"
	KindCommentAdded    Kind = "commentAdded"
	KindCommentReplied  Kind = "commentReplied"
	KindCommentResolved Kind = "commentResolved"
	KindCursorUpdated   Kind = "cursorUpdated"
)

// Kinds lists every event variant.
var Kinds = []Kind{
	KindDocumentCreated,
	KindUserJoined,
	KindUserLeft,
	KindChangeApplied,
	KindCommentAdded,
	KindCommentReplied,
	KindCommentResolved,
	KindCursorUpdated,
}

// Event is one of the eight variants declared in this file. The set is
// closed: the unexported marker keeps other packages from adding kinds.
type Event interface {
	Kind() Kind
	EventMeta() Meta
	event()
}

// Meta is shared by every event.
type Meta struct {
	DocumentID string    `json:"documentId"`
	At         time.Time `json:"at"`
}

// EventMeta returns the shared fields.
func (m Meta) EventMeta() Meta {
	return m
}

// LeaveReason tells an explicit leave apart from an idle eviction.
type LeaveReason string

const (
	LeaveExplicit LeaveReason = "explicit"
	LeaveIdle     LeaveReason = "idle"
)

type DocumentCreated struct {
	Meta
	Document document.Snapshot `json:"document"`
}

type UserJoined struct {
	Meta
	UserID string `json:"userId"`
}

type UserLeft struct {
	Meta
	UserID string      `json:"userId"`
	Reason LeaveReason `json:"reason"`
}

// ChangeApplied carries the change as it was applied, after transformation.
type ChangeApplied struct {
	Meta
	Change ot.Change `json:"change"`
}

type CommentAdded struct {
	Meta
	Comment document.Comment `json:"comment"`
}

type CommentReplied struct {
	Meta
	ParentID string           `json:"parentId"`
	Reply    document.Comment `json:"reply"`
}

type CommentResolved struct {
	Meta
	CommentID string `json:"commentId"`
	UserID    string `json:"userId"`
}

type CursorUpdated struct {
	Meta
	Cursor document.CursorPosition `json:"cursor"`
}

func (DocumentCreated) Kind() Kind { return KindDocumentCreated }
func (UserJoined) Kind() Kind      { return KindUserJoined }
func (UserLeft) Kind() Kind        { return KindUserLeft }
func (ChangeApplied) Kind() Kind   { return KindChangeApplied }
func (CommentAdded) Kind() Kind    { return KindCommentAdded }
func (CommentReplied) Kind() Kind  { return KindCommentReplied }
func (CommentResolved) Kind() Kind { return KindCommentResolved }
func (CursorUpdated) Kind() Kind   { return KindCursorUpdated }

func (DocumentCreated) event() {}
func (UserJoined) event()      {}
func (UserLeft) event()        {}
func (ChangeApplied) event()   {}
func (CommentAdded) event()    {}
func (CommentReplied) event()  {}
func (CommentResolved) event() {}
func (CursorUpdated) event()   {}
