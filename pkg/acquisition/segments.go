package acquisition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/synaptica-ai/vision-uploader/pkg/retry"
)

// SegmentRef locates the stored mask of one segment finding.
type SegmentRef struct {
	ID               string
	ImageInstanceUID string
	URL              string
}

type segmentsResponse struct {
	FindingsSegments []struct {
		Segments []struct {
			ID               json.RawMessage `json:"id"`
			ImageInstanceUID string          `json:"imageInstanceUid"`
			URL              string          `json:"url"`
		} `json:"segments"`
	} `json:"findingsSegments"`
}

var xmlPrefix = []byte("<?xml")

// FetchSegmentRefs asks for the storage references of the classification's
// segment findings. Segmentation lags classification, so the budget is large.
func (a *Acquirer) FetchSegmentRefs(ctx context.Context, c *Classification) ([]SegmentRef, error) {
	if c == nil || c.Vision == nil {
		return nil, errors.New("classification has no vision findings")
	}
	payload := map[string]interface{}{"findingsIds": []json.RawMessage{c.Vision.ID}}

	return retry.Do(ctx, a.segmentPolicy, func(ctx context.Context, _ *retry.Budget) ([]SegmentRef, error) {
		resp, err := a.client.Post(ctx, SegmentsStatusPath, payload)
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, retry.Transientf("%s failed: %d %s", SegmentsStatusPath, resp.StatusCode, resp.Text())
		}

		var body segmentsResponse
		if err := resp.DecodeJSON(&body); err != nil {
			return nil, retry.Transient(err)
		}
		var refs []SegmentRef
		for _, finding := range body.FindingsSegments {
			for _, segment := range finding.Segments {
				refs = append(refs, SegmentRef{
					ID:               idKey(segment.ID),
					ImageInstanceUID: segment.ImageInstanceUID,
					URL:              segment.URL,
				})
			}
		}
		return refs, nil
	})
}

// FetchSegmentMask downloads one mask. Storage answers missing or expired
// objects with an XML error document, which is retried like a failed call.
func (a *Acquirer) FetchSegmentMask(ctx context.Context, url string) ([]byte, error) {
	return retry.Do(ctx, a.maskPolicy, func(ctx context.Context, _ *retry.Budget) ([]byte, error) {
		resp, err := a.client.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		if bytes.HasPrefix(resp.Body, xmlPrefix) {
			return nil, retry.Transientf("storage error retrieving segment mask: %s", resp.Text())
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, retry.Transientf("segment mask request returned %d", resp.StatusCode)
		}
		return resp.Body, nil
	})
}
