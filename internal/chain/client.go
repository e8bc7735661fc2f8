// Package chain is a client for an Esplora/mempool-style block explorer REST API.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/logger"
)

// PageSize is the number of confirmed transactions the explorer returns per page
const PageSize = 25

// MempoolLimit is the most unconfirmed transactions the explorer lists per
// address. A full list may be missing entries.
const MempoolLimit = 50

const upstreamName = "explorer"

// Client talks to the explorer. It is safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	maxPages int
}

// NewClient creates an explorer client. Every request is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration, maxPages int) *Client {
	if maxPages < 1 {
		maxPages = 1
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		maxPages: maxPages,
	}
}

// BlockHeight returns the current best-known chain height
func (c *Client) BlockHeight(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, errors.ErrUpstreamUnavailable(upstreamName, pkgerrors.Wrap(err, "parse tip height"))
	}
	return height, nil
}

// ConfirmedTransactions follows the afterTxid cursor until a short page.
// When the page ceiling is hit first, the partial result is returned with
// complete=false instead of an error.
func (c *Client) ConfirmedTransactions(ctx context.Context, address string) (txs []Transaction, complete bool, err error) {
	base := "/address/" + url.PathEscape(address) + "/txs/chain"
	path := base

	for page := 0; page < c.maxPages; page++ {
		var batch []Transaction
		if err := c.getJSON(ctx, path, &batch); err != nil {
			return nil, false, err
		}
		txs = append(txs, batch...)

		if len(batch) < PageSize {
			return txs, true, nil
		}
		path = base + "/" + url.PathEscape(batch[len(batch)-1].TxID)
	}

	logger.Warn("Explorer page ceiling reached, history truncated", logger.Fields{
		"address":   address,
		"max_pages": c.maxPages,
		"tx_count":  len(txs),
	})
	return txs, false, nil
}

// MempoolTransactions returns unconfirmed transactions touching address
func (c *Client) MempoolTransactions(ctx context.Context, address string) ([]Transaction, error) {
	var txs []Transaction
	if err := c.getJSON(ctx, "/address/"+url.PathEscape(address)+"/txs/mempool", &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// Address returns funded/spent statistics for address
func (c *Client) Address(ctx context.Context, address string) (*AddressInfo, error) {
	var info AddressInfo
	if err := c.getJSON(ctx, "/address/"+url.PathEscape(address), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Transaction returns one transaction by id
func (c *Client) Transaction(ctx context.Context, txid string) (*Transaction, error) {
	var tx Transaction
	if err := c.getJSON(ctx, "/tx/"+url.PathEscape(txid), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Broadcast submits a raw hex transaction and returns its txid
func (c *Client) Broadcast(ctx context.Context, rawHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx", strings.NewReader(strings.TrimSpace(rawHex)))
	if err != nil {
		return "", errors.ErrInternalServer("build broadcast request", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.ErrUpstreamUnavailable(upstreamName, pkgerrors.Wrap(err, "POST /tx"))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return "", errors.ErrInvalidRequest("transaction rejected: "+strings.TrimSpace(string(body)), nil)
	case resp.StatusCode != http.StatusOK:
		return "", errors.ErrUpstreamUnavailable(upstreamName, fmt.Errorf("POST /tx returned status %d: %s", resp.StatusCode, body))
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.ErrUpstreamUnavailable(upstreamName, pkgerrors.Wrapf(err, "decode %s", path))
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errors.ErrInternalServer("build explorer request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.ErrUpstreamUnavailable(upstreamName, pkgerrors.Wrapf(err, "GET %s", path))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ErrUpstreamUnavailable(upstreamName, pkgerrors.Wrapf(err, "read %s", path))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.ErrUpstreamUnavailable(upstreamName, fmt.Errorf("GET %s returned status %d: %s", path, resp.StatusCode, truncate(body, 200)))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
