package audit

import (
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/fixlab/internal/fixlab"
)

// MaxNoteLength caps approval notes, in characters.
const MaxNoteLength = 600

// ValidateApprovals turns raw updates into overlay writes. Entries naming an
// unknown fix or an invalid state are dropped. Repeated fix ids collapse to
// the last entry, kept at the position of the first. Notes are trimmed and
// capped; a blank note becomes nil. An open state without a note deletes the
// override row.
func ValidateApprovals(report fixlab.Report, updates []fixlab.ApprovalUpdate) []fixlab.OverrideWrite {
	known := make(map[string]struct{}, len(report.Fixes))
	for _, f := range report.Fixes {
		known[f.ID] = struct{}{}
	}

	var writes []fixlab.OverrideWrite
	index := make(map[string]int, len(updates))
	for _, u := range updates {
		fixID := strings.TrimSpace(u.FixID)
		if _, ok := known[fixID]; !ok || !u.State.Valid() {
			continue
		}
		w := fixlab.OverrideWrite{FixID: fixID, State: u.State, Note: cleanNote(u.Note)}
		w.Delete = w.State == fixlab.FixOpen && w.Note == nil
		if i, seen := index[fixID]; seen {
			writes[i] = w
			continue
		}
		index[fixID] = len(writes)
		writes = append(writes, w)
	}
	return writes
}

func cleanNote(note *string) *string {
	if note == nil {
		return nil
	}
	v := strings.TrimSpace(*note)
	if v == "" {
		return nil
	}
	if utf8.RuneCountInString(v) > MaxNoteLength {
		v = string([]rune(v)[:MaxNoteLength])
	}
	return &v
}
