package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/vietddude/sweepwatch/internal/infra/chain"
)

type signRequest struct {
	WalletID    string `json:"walletId"`
	ChainFamily string `json:"chainFamily"`
	From        string `json:"from"`
	To          string `json:"to"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Fee         string `json:"fee"`
	Unsigned    string `json:"unsigned"`
}

type signResponse struct {
	Signed string `json:"signed"`
	Error  string `json:"error"`
}

// RemoteSigner asks a custody service to sign transfers.
// The service receives the unsigned serialization and returns the signed bytes hex-encoded.
type RemoteSigner struct {
	endpoint string
	token    string
	client   *retryablehttp.Client
}

func NewRemoteSigner(endpoint, token string, client *retryablehttp.Client) *RemoteSigner {
	return &RemoteSigner{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   client,
	}
}

func (s *RemoteSigner) Sign(ctx context.Context, walletID string, t *chain.Transfer) ([]byte, error) {
	body, err := json.Marshal(signRequest{
		WalletID:    walletID,
		ChainFamily: string(t.ChainFamily),
		From:        t.From,
		To:          t.To,
		Asset:       t.Asset.Key(),
		Amount:      t.Amount.String(),
		Fee:         t.Fee.String(),
		Unsigned:    hex.EncodeToString(t.Unsigned),
	})
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/sign", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote signer: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote signer: read response: %w", err)
	}

	var out signResponse
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("remote signer: parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = string(raw)
		}
		return nil, fmt.Errorf("remote signer: http %d: %s", resp.StatusCode, msg)
	}

	signed, err := hex.DecodeString(strings.TrimPrefix(out.Signed, "0x"))
	if err != nil || len(signed) == 0 {
		return nil, fmt.Errorf("remote signer: invalid signed payload")
	}
	return signed, nil
}
