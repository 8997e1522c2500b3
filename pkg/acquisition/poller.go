package acquisition

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/synaptica-ai/vision-uploader/pkg/observability/metrics"
	"github.com/synaptica-ai/vision-uploader/pkg/retry"
)

// ErrPollTimeout is returned when a study stays pending, in progress or
// unlisted past the polling timeout.
var ErrPollTimeout = fmt.Errorf("classification polling timed out: %w", retry.ErrTimeout)

type filterResponse struct {
	Studies []json.RawMessage `json:"studies"`
}

// FetchStatus polls the filter endpoint for accession until the first
// listed study reaches a terminal state. Pending observations re-arm the
// retry budget, so only the timeout ends a legitimately slow study.
func (a *Acquirer) FetchStatus(ctx context.Context, accession string, timeout time.Duration) (*Classification, error) {
	start := a.now()
	payload := map[string]string{"accessionNumber": accession}

	return retry.Do(ctx, a.statusPolicy, func(ctx context.Context, budget *retry.Budget) (*Classification, error) {
		resp, err := a.client.Post(ctx, FilterPath, payload)
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, retry.Transientf("%s failed for accession %s: %d %s", FilterPath, accession, resp.StatusCode, resp.Text())
		}

		var body filterResponse
		if err := resp.DecodeJSON(&body); err != nil {
			return nil, retry.Transient(err)
		}
		if len(body.Studies) == 0 {
			metrics.ObservePoll(string(stateNotListed))
			return nil, a.stillWaiting(budget, start, timeout, accession, "not yet available")
		}

		classification, err := parseClassification(body.Studies[0])
		if err != nil {
			return nil, retry.Transient(err)
		}
		metrics.ObservePoll(string(classification.State))
		if !classification.State.Terminal() {
			return nil, a.stillWaiting(budget, start, timeout, accession, string(classification.State))
		}
		return classification, nil
	})
}

func (a *Acquirer) stillWaiting(budget *retry.Budget, start time.Time, timeout time.Duration, accession, state string) error {
	if elapsed := a.now().Sub(start); elapsed > timeout {
		return fmt.Errorf("%w: accession %s %s after %s", ErrPollTimeout, accession, state, elapsed.Round(time.Second))
	}
	budget.Rearm()
	return retry.Transientf("accession %s %s", accession, state)
}
