package ot

// Transform rebases a pending change c onto a document that already includes
// the concurrent change o. Both changes must have been authored against the
// same document state.
//
// Positional shifts:
//   - o at or before c: c moves right by the text o inserted and left by the
//     text o deleted in front of it.
//   - o after c: no shift.
//
// Ranges are refined so that every pair converges: c forgets characters o
// already deleted, a deletion in c absorbs text o inserted strictly inside
// it, and text c inserts strictly inside o's deleted range is dropped.
func Transform(c, o Change) Change {
	out := c

	cDel, oDel := c.Deleted(), o.Deleted()
	oIns := runeLen(o.Inserted())
	shared := overlap(c.Position, cDel, o.Position, oDel)

	switch {
	case o.Position > c.Position:
		// o starts inside the range c deletes
		if o.Position < c.Position+cDel {
			out.setDeleted(cDel - shared + oIns)
		}
	case o.Position < c.Position:
		if c.Position < o.Position+oDel {
			out.setInserted("")
		}

		out.Position = max(c.Position-min(oDel, c.Position-o.Position), 0) + oIns
		out.setDeleted(cDel - shared)
	default:
		out.setDeleted(cDel - shared)

		if !Precedes(c, o) {
			out.Position += oIns
		}
	}

	return out
}

// Precedes reports whether a is ordered before b when both touch the same
// offset. The smaller deletion goes first, so a pure insert always lands in
// front of a concurrent delete or replace. Remaining ties are broken by
// timestamp, then user id, then change id.
func Precedes(a, b Change) bool {
	if a.Deleted() != b.Deleted() {
		return a.Deleted() < b.Deleted()
	}

	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}

	if a.UserID != b.UserID {
		return a.UserID < b.UserID
	}

	return a.ID < b.ID
}

// overlap returns the number of characters shared by [p1, p1+n1) and [p2, p2+n2).
func overlap(p1, n1, p2, n2 int) int {
	lo := max(p1, p2)
	hi := min(p1+n1, p2+n2)

	return max(hi-lo, 0)
}
