package acquisition

import (
	"context"

	"github.com/synaptica-ai/vision-uploader/pkg/retry"
)

type StudySummary struct {
	AccessionNumber  string `json:"accessionNumber"`
	StudyInstanceUID string `json:"studyInstanceUid"`
	Status           struct {
		Vision PollState `json:"vision"`
	} `json:"status"`
}

// ListStudies returns the studies known to the service for this client.
func (a *Acquirer) ListStudies(ctx context.Context) ([]StudySummary, error) {
	return retry.Do(ctx, a.listPolicy, func(ctx context.Context, _ *retry.Budget) ([]StudySummary, error) {
		resp, err := a.client.Get(ctx, StudiesPath, nil)
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, retry.Transientf("%s failed: %d %s", StudiesPath, resp.StatusCode, resp.Text())
		}
		var body struct {
			Studies []StudySummary `json:"studies"`
		}
		if err := resp.DecodeJSON(&body); err != nil {
			return nil, retry.Transient(err)
		}
		return body.Studies, nil
	})
}

// Accessions lists the accession numbers of studies, skipping blanks.
func Accessions(studies []StudySummary) []string {
	out := make([]string, 0, len(studies))
	for _, study := range studies {
		if study.AccessionNumber != "" {
			out = append(out, study.AccessionNumber)
		}
	}
	return out
}
