package httpclient

import (
	"context"
	"net/http"
)

// UploadLogs implements logging.Uploader: POSTs a batch of NDJSON log
// records to the cloud's log-ingest endpoint. Upload is itself
// non-idempotent (a duplicate delivery would double-count on the cloud
// side) so it bypasses the retry policy and is sent with DoOnce rather than
// Do.
func (c *Client) UploadLogs(ctx context.Context, ndjson []byte, gzipped bool) error {
	headers := http.Header{"Content-Type": {"application/x-ndjson"}}
	if gzipped {
		headers.Set("Content-Encoding", "gzip")
	}
	resp, err := c.DoOnce(ctx, http.MethodPost, "/v1/logs", headers, ndjson)
	if err != nil {
		return err
	}
	if resp.Status >= 300 {
		return unexpectedStatus("upload_logs", resp.Status)
	}
	return nil
}
