package main

import (
	"errors"

	"github.com/aktagon/news-digest/internal/pipeline"
)

// SourceStatus represents how far a source got in a run
type SourceStatus string

const (
	StatusSuccess SourceStatus = "success"
	StatusSkipped SourceStatus = "skipped"
	StatusError   SourceStatus = "error"
)

// SourceResult is one row of the run summary
type SourceResult struct {
	Source    string
	URL       string
	Status    SourceStatus
	Stage     pipeline.Stage
	Detail    string
	Documents int
	Error     error
}

// resultsFromReport flattens a run report into summary rows in source order.
func resultsFromReport(report *pipeline.RunReport) []SourceResult {
	results := make([]SourceResult, 0, len(report.Sources))
	for _, sr := range report.Sources {
		result := SourceResult{
			Source: sr.Run.Source,
			URL:    sr.Run.URL,
			Error:  sr.Err,
		}
		if n := len(sr.Stages); n > 0 {
			last := sr.Stages[n-1]
			result.Stage = last.Stage
			result.Detail = last.String()
			if last.Stage == pipeline.StageSourceSynthesis {
				result.Documents = len(last.Outputs)
			}
		}

		switch {
		case sr.Completed():
			result.Status = StatusSuccess
		case errors.Is(sr.Err, pipeline.ErrEmptyStage):
			// An empty stage stops the source without anything having broken.
			result.Status = StatusSkipped
		default:
			result.Status = StatusError
		}
		results = append(results, result)
	}
	return results
}
