package ot

import "errors"

// ErrInvalidChange is returned when a change cannot describe an edit.
var ErrInvalidChange = errors.New("invalid change")

// Validate checks the shape of a change before it is transformed.
// Offsets beyond the text are not rejected here; Clamp handles them.
func Validate(c Change) error {
	switch {
	case !c.Operation.Valid():
		return ErrInvalidChange
	case c.Position < 0, c.Length < 0, c.BaseVersion < 0:
		return ErrInvalidChange
	case c.Operation == Insert && c.Content == "":
		return ErrInvalidChange
	case c.Operation == Delete && c.Length == 0:
		return ErrInvalidChange
	case c.Operation == Replace && c.Length == 0 && c.Content == "":
		return ErrInvalidChange
	}

	return nil
}

// Clamp limits the change to a text of n characters.
func Clamp(c Change, n int) Change {
	c.Position = min(max(c.Position, 0), n)
	c.setDeleted(min(c.Deleted(), n-c.Position))

	return c
}

// Apply splices the change into text and returns the new text.
// The input slice is never modified.
func Apply(text []rune, c Change) []rune {
	c = Clamp(c, len(text))
	ins := []rune(c.Inserted())

	out := make([]rune, 0, len(text)-c.Deleted()+len(ins))
	out = append(out, text[:c.Position]...)
	out = append(out, ins...)
	out = append(out, text[c.Position+c.Deleted():]...)

	return out
}

// Replay applies changes in order to the initial text.
func Replay(initial string, changes []Change) string {
	text := []rune(initial)

	for _, c := range changes {
		text = Apply(text, c)
	}

	return string(text)
}
