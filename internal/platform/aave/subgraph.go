package aave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/liqwatch/liqwatch/internal/domain"
)

// SubgraphClient queries an Aave V3 protocol subgraph for a wallet's reserve
// balances and the per-reserve risk parameters.
type SubgraphClient struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewSubgraphClient creates a client for the given subgraph endpoint.
func NewSubgraphClient(graphqlURL, apiKey string) *SubgraphClient {
	return &SubgraphClient{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// UserReserve is one reserve row for a wallet: balances as decimal strings in
// token units plus the reserve's risk parameters.
type UserReserve struct {
	Symbol               string
	UnderlyingAsset      string
	ATokenBalance        string
	TotalDebt            string
	PriceUSD             string
	Decimals             int
	LiquidationThreshold string // basis points, e.g. "8250"
	BaseLTV              string // basis points
	UsageAsCollateral    bool
}

// FetchUserReserves returns all reserves the wallet currently touches.
func (c *SubgraphClient) FetchUserReserves(ctx context.Context, wallet string) ([]UserReserve, error) {
	const query = `
		query UserReserves($user: String!) {
			userReserves(where: { user: $user }) {
				currentATokenBalance
				currentTotalDebt
				usageAsCollateralEnabledOnUser
				reserve {
					symbol
					underlyingAsset
					decimals
					reserveLiquidationThreshold
					baseLTVasCollateral
					price { priceInUsd }
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, query, map[string]any{"user": strings.ToLower(wallet)})
	if err != nil {
		return nil, fmt.Errorf("aave: fetch user reserves: %w", err)
	}

	var result struct {
		UserReserves []struct {
			CurrentATokenBalance           string `json:"currentATokenBalance"`
			CurrentTotalDebt               string `json:"currentTotalDebt"`
			UsageAsCollateralEnabledOnUser bool   `json:"usageAsCollateralEnabledOnUser"`
			Reserve                        struct {
				Symbol                      string `json:"symbol"`
				UnderlyingAsset             string `json:"underlyingAsset"`
				Decimals                    int    `json:"decimals"`
				ReserveLiquidationThreshold string `json:"reserveLiquidationThreshold"`
				BaseLTVasCollateral         string `json:"baseLTVasCollateral"`
				Price                       struct {
					PriceInUsd string `json:"priceInUsd"`
				} `json:"price"`
			} `json:"reserve"`
		} `json:"userReserves"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("aave: decode user reserves: %w: %w", err, domain.ErrDataIntegrity)
	}

	out := make([]UserReserve, 0, len(result.UserReserves))
	for _, ur := range result.UserReserves {
		out = append(out, UserReserve{
			Symbol:               ur.Reserve.Symbol,
			UnderlyingAsset:      ur.Reserve.UnderlyingAsset,
			ATokenBalance:        ur.CurrentATokenBalance,
			TotalDebt:            ur.CurrentTotalDebt,
			PriceUSD:             ur.Reserve.Price.PriceInUsd,
			Decimals:             ur.Reserve.Decimals,
			LiquidationThreshold: ur.Reserve.ReserveLiquidationThreshold,
			BaseLTV:              ur.Reserve.BaseLTVasCollateral,
			UsageAsCollateral:    ur.UsageAsCollateralEnabledOnUser,
		})
	}
	return out, nil
}

func (c *SubgraphClient) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrDataSourceUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status %d: %s: %w", resp.StatusCode, string(respBody), domain.ErrDataSourceUnavailable)
	}

	var gqlResp graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return nil, fmt.Errorf("decode response: %w: %w", err, domain.ErrDataSourceUnavailable)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s: %w", gqlResp.Errors[0].Message, domain.ErrDataSourceUnavailable)
	}
	return gqlResp.Data, nil
}
