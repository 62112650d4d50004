package audit_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fixlab/internal/audit"
	"github.com/JakeFAU/fixlab/internal/fixlab"
)

func twoFixReport() fixlab.Report {
	return fixlab.Report{Fixes: []fixlab.Fix{
		{ID: "fix-001", State: fixlab.FixOpen},
		{ID: "fix-002", State: fixlab.FixOpen},
	}}
}

func TestValidateApprovals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		updates []fixlab.ApprovalUpdate
		want    []fixlab.OverrideWrite
	}{
		{
			name:    "Empty",
			updates: nil,
			want:    nil,
		},
		{
			name: "UnknownFixAndBadStateDropped",
			updates: []fixlab.ApprovalUpdate{
				{FixID: "fix-009", State: fixlab.FixApproved},
				{FixID: "fix-001", State: "merged"},
				{FixID: " fix-002 ", State: fixlab.FixRejected},
			},
			want: []fixlab.OverrideWrite{{FixID: "fix-002", State: fixlab.FixRejected}},
		},
		{
			name: "LastWriteWinsAtFirstPosition",
			updates: []fixlab.ApprovalUpdate{
				{FixID: "fix-002", State: fixlab.FixApproved},
				{FixID: "fix-001", State: fixlab.FixRejected},
				{FixID: "fix-002", State: fixlab.FixEdited, Note: strptr("retitle")},
			},
			want: []fixlab.OverrideWrite{
				{FixID: "fix-002", State: fixlab.FixEdited, Note: strptr("retitle")},
				{FixID: "fix-001", State: fixlab.FixRejected},
			},
		},
		{
			name: "OpenWithoutNoteDeletes",
			updates: []fixlab.ApprovalUpdate{
				{FixID: "fix-001", State: fixlab.FixOpen},
				{FixID: "fix-002", State: fixlab.FixOpen, Note: strptr("   ")},
			},
			want: []fixlab.OverrideWrite{
				{FixID: "fix-001", State: fixlab.FixOpen, Delete: true},
				{FixID: "fix-002", State: fixlab.FixOpen, Delete: true},
			},
		},
		{
			name:    "OpenWithNoteKeepsRow",
			updates: []fixlab.ApprovalUpdate{{FixID: "fix-001", State: fixlab.FixOpen, Note: strptr(" revisit after launch ")}},
			want:    []fixlab.OverrideWrite{{FixID: "fix-001", State: fixlab.FixOpen, Note: strptr("revisit after launch")}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, audit.ValidateApprovals(twoFixReport(), tt.updates))
		})
	}
}

func TestValidateApprovalsCapsNote(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("é", audit.MaxNoteLength+50)

	writes := audit.ValidateApprovals(twoFixReport(), []fixlab.ApprovalUpdate{
		{FixID: "fix-001", State: fixlab.FixEdited, Note: &long},
	})
	require.Len(t, writes, 1)
	require.NotNil(t, writes[0].Note)
	assert.Equal(t, audit.MaxNoteLength, utf8.RuneCountInString(*writes[0].Note))
	assert.True(t, utf8.ValidString(*writes[0].Note))
}
