package collab

import (
	"errors"

	"github.com/serroba/collab-notes/internal/document"
	"github.com/serroba/collab-notes/internal/session"
)

// Errors returned by the engine. Callers match them with errors.Is.
var (
	ErrDocumentNotFound = document.ErrDocumentNotFound
	ErrCommentNotFound  = document.ErrCommentNotFound
	ErrSessionNotFound  = session.ErrSessionNotFound
	ErrInvalidOperation = errors.New("invalid operation")
)
