package status

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// SignatureHeader carries "sha256=<hex>" when a signing key is configured.
	SignatureHeader = "X-Signature-256"
	// TimestampHeader carries the unix time included in the signature.
	TimestampHeader = "X-Timestamp"

	maxSignatureAge = 5 * time.Minute
)

// Client pushes records to the remote controller.
type Client struct {
	url        string
	accessKey  string
	signingKey string
	httpClient *http.Client
}

// NewClient creates a client. signingKey may be empty.
func NewClient(url, accessKey, signingKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		url:        url,
		accessKey:  accessKey,
		signingKey: signingKey,
		httpClient: httpClient,
	}
}

// Push sends one record. There is no retry; the reporter's cadence is the
// retry policy.
func (c *Client) Push(ctx context.Context, rec *Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessKey)
	if c.signingKey != "" {
		timestamp := time.Now().Unix()
		req.Header.Set(TimestampHeader, fmt.Sprintf("%d", timestamp))
		req.Header.Set(SignatureHeader, "sha256="+sign(c.signingKey, timestamp, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	// Drain for connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("controller returned status %d", resp.StatusCode)
	}
	return nil
}

// sign computes HMAC-SHA256(key, "{timestamp}.{body}").
func sign(key string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a pushed record's signature. signature is the hex
// digest without the "sha256=" prefix. Timestamps older than five minutes
// are rejected.
func VerifySignature(signingKey, signature string, timestamp int64, body []byte) bool {
	age := time.Since(time.Unix(timestamp, 0))
	if age > maxSignatureAge || age < -maxSignatureAge {
		return false
	}
	expected := sign(signingKey, timestamp, body)
	return hmac.Equal([]byte(signature), []byte(expected))
}
