package fetch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hello-sally/jobwatch/internal/job"
)

// TranscriptionFetcher produces the per-file transcription snapshot of
// one report.
type TranscriptionFetcher struct {
	Client   *Client
	ReportID job.ID
}

func (f TranscriptionFetcher) Fetch(ctx context.Context) (job.Snapshot, error) {
	return f.Client.AudioFiles(ctx, f.ReportID)
}

// AnalysisFetcher produces one analysis observation from two concurrent
// calls. Either both succeed or the whole fetch fails; a half-read
// observation is never returned.
type AnalysisFetcher struct {
	Client   *Client
	ReportID job.ID
}

func (f AnalysisFetcher) Fetch(ctx context.Context) (job.Analysis, error) {
	var (
		status job.Analysis
		latest *job.LatestResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		status, err = f.Client.AnalysisStatus(gctx, f.ReportID)
		return err
	})
	g.Go(func() error {
		var err error
		latest, err = f.Client.LatestAnalysis(gctx, f.ReportID)
		return err
	})
	if err := g.Wait(); err != nil {
		return job.Analysis{}, fmt.Errorf("analysis %s: %w", f.ReportID, err)
	}
	status.Latest = latest
	return status, nil
}
