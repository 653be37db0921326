package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"staffline/internal/domain"
)

func TestParsePlan(t *testing.T) {
	plan, err := parsePlan([]string{"r1:Dev:2025-01-01:2025-06-30", "r2:QA:2025-02-01:2025-03-31"})
	require.NoError(t, err)
	require.Equal(t, []domain.PlanItem{
		{ResourceID: "r1", Role: "Dev", StartDate: "2025-01-01", EndDate: "2025-06-30"},
		{ResourceID: "r2", Role: "QA", StartDate: "2025-02-01", EndDate: "2025-03-31"},
	}, plan)

	_, err = parsePlan([]string{"r1:Dev:2025-01-01"})
	require.ErrorContains(t, err, "resource:role:start:end")

	plan, err = parsePlan(nil)
	require.NoError(t, err)
	require.Empty(t, plan)
}

func TestOptionalStringOnlyWhenFlagSet(t *testing.T) {
	var name string
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().StringVar(&name, "name", "", "")
	require.Nil(t, optionalString(cmd, "name", name))

	require.NoError(t, cmd.Flags().Set("name", ""))
	got := optionalString(cmd, "name", name)
	require.NotNil(t, got)
	require.Equal(t, "", *got)
}
