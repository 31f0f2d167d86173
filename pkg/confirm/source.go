package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrUnexpectedStatus = errors.New("confirm: unexpected status")

// APISource reads GET /v1/entitlement on the subtrack API.
type APISource struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewAPISource(baseURL, token string, client *http.Client) *APISource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &APISource{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    client,
	}
}

func (s *APISource) Fetch(ctx context.Context) (Entitlement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/entitlement", nil)
	if err != nil {
		return Entitlement{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")

	res, err := s.http.Do(req)
	if err != nil {
		return Entitlement{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, res.Body)
		return Entitlement{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, res.StatusCode)
	}

	var body struct {
		Data Entitlement `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return Entitlement{}, err
	}
	return body.Data, nil
}
