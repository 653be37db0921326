package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"staffline/internal/domain"
	"staffline/internal/repo"
)

func TestWorkbookSheets(t *testing.T) {
	wb := Workbook{
		Assignments: []repo.AssignmentDetail{{
			Assignment: domain.Assignment{
				ID: "a1", Role: "Backend", StartDate: "2025-03-01", EndDate: "2025-03-31", Status: domain.AssignmentActive,
			},
			EmployeeID:   "EMP001",
			ResourceName: "Ada",
			ProjectName:  "Apollo",
			ClientName:   "Acme",
		}},
		Events: []domain.Event{
			{ID: 1, TS: "2025-03-10T09:00:00Z", EntityType: domain.EntityAssignment, EntityID: "a1",
				ActivityType: domain.ActivityAssign, ActorID: "admin", Description: "Ada assigned"},
			{ID: 2, TS: "2025-03-31T00:00:00Z", EntityType: domain.EntityAssignment, EntityID: "a1",
				ActivityType: domain.ActivityAutoExpire, ActorID: domain.SystemActor, Automatic: true, Description: "expired"},
		},
	}
	var out bytes.Buffer
	require.NoError(t, Write(&out, wb))

	f, err := excelize.OpenReader(&out)
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, []string{"Assignments", "History"}, f.GetSheetList())

	rows, err := f.GetRows("Assignments")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Employee", rows[0][0])
	require.Equal(t, []string{"EMP001", "Ada", "Apollo", "Acme", "Backend", "2025-03-01", "2025-03-31", "ACTIVE"}, rows[1])

	rows, err = f.GetRows("History")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "AUTO_EXPIRE", rows[2][4])
	require.Equal(t, "yes", rows[2][6])
}

func TestEmptyWorkbookKeepsHeaders(t *testing.T) {
	buf, err := WriteToBuffer(Workbook{})
	require.NoError(t, err)
	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("History")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
