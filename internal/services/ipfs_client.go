package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// IPFSClient pins certificate metadata through an IPFS node's HTTP API.
type IPFSClient struct {
	apiURL     string
	gatewayURL string
	httpClient *http.Client
	log        *zap.Logger
}

func NewIPFSClient(apiURL, gatewayURL string, log *zap.Logger) *IPFSClient {
	return &IPFSClient{
		apiURL:     strings.TrimRight(apiURL, "/"),
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

type ipfsAddResponse struct {
	Hash string `json:"Hash"`
}

// UploadMetadata pins the metadata document and returns its ipfs:// URI plus
// the bare content hash.
func (c *IPFSClient) UploadMetadata(ctx context.Context, meta CertificateMetadata) (string, string, error) {
	doc, err := json.Marshal(meta)
	if err != nil {
		return "", "", err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "metadata.json")
	if err != nil {
		return "", "", err
	}
	if _, err := part.Write(doc); err != nil {
		return "", "", err
	}
	if err := writer.Close(); err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/api/v0/add?pin=true", &body)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("ipfs node unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("ipfs add returned %d: %s", resp.StatusCode, string(raw))
	}

	var out ipfsAddResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("invalid ipfs response: %w", err)
	}
	if out.Hash == "" {
		return "", "", fmt.Errorf("ipfs add returned no hash")
	}

	c.log.Info("metadata pinned", zap.String("hash", out.Hash))
	return "ipfs://" + out.Hash, out.Hash, nil
}

// GatewayURL renders a browser-viewable URL for an ipfs:// URI.
func (c *IPFSClient) GatewayURL(uri string) string {
	return c.gatewayURL + "/" + strings.TrimPrefix(uri, "ipfs://")
}
