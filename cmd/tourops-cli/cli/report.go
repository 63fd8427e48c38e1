package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tourops/tourops/internal/insights"
)

// InsightsService builds monthly reports.
type InsightsService interface {
	Monthly(ctx context.Context, req insights.Request) (insights.Report, error)
}

// ReportOptions controls the report command.
type ReportOptions struct {
	GuideID    string
	BranchID   string
	Month      string
	JSONOutput bool
	Language   language.Tag
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReportCLI prints monthly guide insights from the terminal.
type ReportCLI struct {
	service InsightsService
}

// NewReportCLI constructs the report command.
func NewReportCLI(service InsightsService) (*ReportCLI, error) {
	if service == nil {
		return nil, errors.New("report cli: service required")
	}
	return &ReportCLI{service: service}, nil
}

// ReportCommand runs the report and returns the process exit code.
func (c *ReportCLI) ReportCommand(ctx context.Context, opts ReportOptions) int {
	scope, err := parseScope(opts.GuideID, opts.BranchID)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "report: %v\n", err)
		return 2
	}
	report, err := c.service.Monthly(ctx, insights.Request{Scope: scope, Month: opts.Month})
	if err != nil {
		fmt.Fprintf(opts.Stderr, "report: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(opts.Stderr, "report: encode: %v\n", err)
			return 1
		}
		return 0
	}
	tag := opts.Language
	if tag == language.Und {
		tag = language.English
	}
	writeReport(opts.Stdout, message.NewPrinter(tag), report)
	return 0
}

func parseScope(guide, branch string) (insights.Scope, error) {
	guideID, err := uuid.Parse(guide)
	if err != nil {
		return insights.Scope{}, fmt.Errorf("invalid guide id %q", guide)
	}
	scope := insights.Scope{GuideID: guideID}
	if branch != "" {
		branchID, err := uuid.Parse(branch)
		if err != nil {
			return insights.Scope{}, fmt.Errorf("invalid branch id %q", branch)
		}
		scope.BranchID = &branchID
	}
	return scope, nil
}

func writeReport(w io.Writer, p *message.Printer, report insights.Report) {
	s := report.Summary
	p.Fprintf(w, "Month %s\n", report.Month)
	p.Fprintf(w, "  trips %d  guests %d  income %.2f  penalties %.2f  rating %.1f (%d)\n",
		s.TotalTrips, s.TotalGuests, s.TotalIncome, s.TotalPenalties, s.AverageRating, s.TotalRatings)
	if prev := report.PreviousMonth; prev != nil {
		p.Fprintf(w, "Previous month\n")
		p.Fprintf(w, "  trips %d  guests %d  income %.2f  penalties %.2f  rating %.1f (%d)\n",
			prev.TotalTrips, prev.TotalGuests, prev.TotalIncome, prev.TotalPenalties, prev.AverageRating, prev.TotalRatings)
	}

	p.Fprintf(w, "\nWeeks\n")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	p.Fprintf(tw, "WEEK\tSTART\tEND\tTRIPS\tGUESTS\tINCOME\tPENALTIES\n")
	for _, wk := range report.WeeklyBreakdown {
		p.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%.2f\t%.2f\n",
			wk.Week, wk.WeekStart, wk.WeekEnd, wk.Trips, wk.Guests, wk.Income, wk.Penalties)
	}
	_ = tw.Flush()

	p.Fprintf(w, "\nPackages\n")
	if len(report.PackageBreakdown) == 0 {
		p.Fprintf(w, "  none\n")
		return
	}
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	p.Fprintf(tw, "PACKAGE\tCITY\tTRIPS\tGUESTS\tINCOME\n")
	for _, pkg := range report.PackageBreakdown {
		city := "-"
		if pkg.City != nil {
			city = *pkg.City
		}
		p.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\n", pkg.PackageName, city, pkg.Trips, pkg.Guests, pkg.Income)
	}
	_ = tw.Flush()
}
