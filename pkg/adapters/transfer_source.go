// Package adapters holds the external collaborators of the backplane:
// transfer data providers, the chain anchor writer, the notifier, and the
// monthly metric source. Implementations here are thin; retry and timeout
// policy lives with the adapter, not the caller.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
)

// TransferSource yields pages of ERC-20 transfer rows in the upstream wire
// shape (string-keyed maps, etherscan field names).
type TransferSource interface {
	// FetchPage returns rows at or after startBlock. Remote sources return
	// at most offset rows per page; local sources ignore paging and return
	// the full result on page 1.
	FetchPage(ctx context.Context, startBlock int64, page, offset int) ([]map[string]any, error)
	// HeadBlock returns the provider's current chain head, or zero when
	// the provider cannot report one.
	HeadBlock(ctx context.Context) (int64, error)
	Name() string
}

type txListResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func decodeRows(raw json.RawMessage) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		// Providers return a bare string in result on errors such as
		// "Max rate limit reached"; treat it as an empty page.
		var msg string
		if json.Unmarshal(raw, &msg) == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("decode result rows: %w", err)
	}
	return rows, nil
}

func fetchWithRetry(ctx context.Context, client *http.Client, logger *slog.Logger, reqURL string) ([]byte, error) {
	var body []byte
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			logger.Warn("transfer source request failed", "err", err)
			return retry.RetryableError(err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			logger.Warn("transfer source server error", "status", resp.StatusCode)
			return retry.RetryableError(fmt.Errorf("upstream status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	return body, err
}

// EtherscanSource pages token transfers from an etherscan-compatible API.
type EtherscanSource struct {
	BaseURL  string
	APIKey   string
	Contract string
	client   *http.Client
	logger   *slog.Logger
}

func NewEtherscanSource(baseURL, apiKey, contract string, logger *slog.Logger) *EtherscanSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &EtherscanSource{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		Contract: contract,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

func (s *EtherscanSource) Name() string { return "etherscan_usdt" }

func (s *EtherscanSource) FetchPage(ctx context.Context, startBlock int64, page, offset int) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "tokentx")
	q.Set("contractaddress", s.Contract)
	q.Set("startblock", strconv.FormatInt(startBlock, 10))
	q.Set("endblock", "latest")
	q.Set("page", strconv.Itoa(page))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("sort", "asc")
	if s.APIKey != "" {
		q.Set("apikey", s.APIKey)
	}

	body, err := fetchWithRetry(ctx, s.client, s.logger, s.BaseURL+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("etherscan fetch: %w", err)
	}

	var resp txListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("etherscan decode: %w", err)
	}
	return decodeRows(resp.Result)
}

func (s *EtherscanSource) HeadBlock(ctx context.Context) (int64, error) {
	q := url.Values{}
	q.Set("module", "proxy")
	q.Set("action", "eth_blockNumber")
	if s.APIKey != "" {
		q.Set("apikey", s.APIKey)
	}

	body, err := fetchWithRetry(ctx, s.client, s.logger, s.BaseURL+"?"+q.Encode())
	if err != nil {
		return 0, fmt.Errorf("etherscan head: %w", err)
	}

	var resp struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("etherscan head decode: %w", err)
	}
	head, err := strconv.ParseInt(resp.Result, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("etherscan head parse %q: %w", resp.Result, err)
	}
	return head, nil
}

// LocalSource reads the in-house settlement backend, which returns the full
// result set from startblock onward in one response.
type LocalSource struct {
	BaseURL       string
	Token         string
	AddressFilter string
	client        *http.Client
	logger        *slog.Logger
}

func NewLocalSource(baseURL, token, addressFilter string, logger *slog.Logger) *LocalSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSource{
		BaseURL:       baseURL,
		Token:         token,
		AddressFilter: addressFilter,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
	}
}

func (s *LocalSource) Name() string { return "local_sfiat" }

func (s *LocalSource) FetchPage(ctx context.Context, startBlock int64, page, offset int) ([]map[string]any, error) {
	if page > 1 {
		// the local backend is not paginated: everything came on page 1
		return nil, nil
	}
	q := url.Values{}
	q.Set("startblock", strconv.FormatInt(startBlock, 10))
	if s.Token != "" {
		q.Set("token", s.Token)
	}
	if s.AddressFilter != "" {
		q.Set("address", s.AddressFilter)
	}

	body, err := fetchWithRetry(ctx, s.client, s.logger, s.BaseURL+"/transfers?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("local source fetch: %w", err)
	}

	var resp txListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("local source decode: %w", err)
	}
	return decodeRows(resp.Result)
}

func (s *LocalSource) HeadBlock(ctx context.Context) (int64, error) {
	return 0, nil
}
