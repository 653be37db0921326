package engine

import (
	"context"
	"time"

	"staffline/internal/domain"
	"staffline/internal/repo"
)

type DashboardStats struct {
	TotalResources     int `json:"total_resources"`
	AvailableResources int `json:"available_resources"`
	OngoingProjects    int `json:"ongoing_projects"`
	PendingRequests    int `json:"pending_requests"`
}

type EndingSoonItem struct {
	repo.AssignmentDetail
	DaysLeft int `json:"days_left"`
}

// viewerScope returns the owner/requester filter for a viewer: admins see
// everything, managers only their own projects and requests.
func viewerScope(viewer domain.User) string {
	if viewer.Type == domain.UserTypeAdmin {
		return ""
	}
	return viewer.ID
}

func (e Engine) Dashboard(ctx context.Context, viewer domain.User) (DashboardStats, error) {
	var stats DashboardStats
	byStatus, err := e.Repo.CountResourcesByStatus(ctx)
	if err != nil {
		return stats, err
	}
	for _, n := range byStatus {
		stats.TotalResources += n
	}
	stats.AvailableResources = byStatus[domain.ResourceAvailable]
	projects, err := e.Repo.CountProjectsByStatus(ctx, viewerScope(viewer))
	if err != nil {
		return stats, err
	}
	stats.OngoingProjects = projects[domain.ProjectOngoing]
	stats.PendingRequests, err = e.Repo.CountPendingRequests(ctx, viewerScope(viewer))
	return stats, err
}

// EndingSoon lists ACTIVE assignments ending within days of today, inclusive.
func (e Engine) EndingSoon(ctx context.Context, viewer domain.User, days int, today string) ([]EndingSoonItem, error) {
	today, err := e.today(today)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = e.Config.EndingSoonDays()
	}
	until, err := AddDays(today, days)
	if err != nil {
		return nil, err
	}
	rows, err := e.Repo.ListAssignmentDetails(ctx, repo.AssignmentFilters{
		Status:  domain.AssignmentActive,
		OwnerID: viewerScope(viewer),
		EndFrom: today,
		EndTo:   until,
	})
	if err != nil {
		return nil, err
	}
	start, _ := time.Parse(domain.DateLayout, today)
	items := make([]EndingSoonItem, 0, len(rows))
	for _, row := range rows {
		end, err := time.Parse(domain.DateLayout, row.EndDate)
		if err != nil {
			continue
		}
		items = append(items, EndingSoonItem{AssignmentDetail: row, DaysLeft: int(end.Sub(start).Hours() / 24)})
	}
	return items, nil
}
