package erp

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/stia/crm-erp-bff/internal/domain"
)

// maxPages guards FetchAll against a server that keeps handing out links.
const maxPages = 1000

// Page is one response of a collection read.
type Page[T any] struct {
	Items    []T
	Total    int
	NextLink string
}

type envelope struct {
	Value      []json.RawMessage `json:"value"`
	Count      Number            `json:"odata.count"`
	CountV2    Number            `json:"@odata.count"`
	NextLink   string            `json:"odata.nextLink"`
	NextLinkV2 string            `json:"@odata.nextLink"`
}

// FetchPage performs one collection read. Total is the server's inline
// count when present, otherwise the number of items received.
func FetchPage[T any](ctx context.Context, c *Client, tenant domain.Tenant, q Query) (Page[T], error) {
	return fetchPath[T](ctx, c, tenant, q.Encode())
}

// FetchAll reads q and follows next links sequentially until the server
// stops returning them or maxItems records were collected (maxItems <= 0
// means no cap). A failing page fails the whole read.
func FetchAll[T any](ctx context.Context, c *Client, tenant domain.Tenant, q Query, maxItems int) ([]T, error) {
	var items []T
	path := q.Encode()
	for pages := 0; path != "" && pages < maxPages; pages++ {
		page, err := fetchPath[T](ctx, c, tenant, path)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if maxItems > 0 && len(items) >= maxItems {
			return items[:maxItems], nil
		}
		if page.NextLink == path {
			break
		}
		path = page.NextLink
	}
	return items, nil
}

// Get reads a single entity addressed by q.Key.
func Get[T any](ctx context.Context, c *Client, tenant domain.Tenant, q Query) (T, error) {
	var out T
	body, err := c.get(ctx, tenant, q.Encode())
	if err != nil {
		return out, err
	}
	out, _, err = decodeRecord[T](body)
	if err != nil {
		return out, &domain.ErrExternalService{
			Service: "erp/" + q.Collection,
			Err:     fmt.Errorf("failed to decode entity: %w", err),
		}
	}
	return out, nil
}

// First returns the first record matching q, if any.
func First[T any](ctx context.Context, c *Client, tenant domain.Tenant, q Query) (T, bool, error) {
	q.Top = 1
	page, err := FetchPage[T](ctx, c, tenant, q)
	if err != nil || len(page.Items) == 0 {
		var zero T
		return zero, false, err
	}
	return page.Items[0], true, nil
}

func fetchPath[T any](ctx context.Context, c *Client, tenant domain.Tenant, path string) (Page[T], error) {
	body, err := c.get(ctx, tenant, path)
	if err != nil {
		return Page[T]{}, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Page[T]{}, &domain.ErrExternalService{
			Service: "erp/" + collectionOf(path),
			Err:     fmt.Errorf("failed to decode page: %w", err),
		}
	}

	items := make([]T, 0, len(env.Value))
	for _, raw := range env.Value {
		item, mismatched, err := decodeRecord[T](raw)
		if err != nil {
			c.logger.Warn("erp: skipping malformed record",
				zap.String("collection", collectionOf(path)),
				zap.Error(err),
			)
			continue
		}
		if len(mismatched) > 0 {
			c.logger.Debug("erp: coerced record fields",
				zap.String("collection", collectionOf(path)),
				zap.Strings("fields", mismatched),
			)
		}
		items = append(items, item)
	}

	page := Page[T]{Items: items, Total: len(items), NextLink: env.NextLink}
	if page.NextLink == "" {
		page.NextLink = env.NextLinkV2
	}
	switch {
	case env.Count.Valid():
		page.Total = env.Count.Int()
	case env.CountV2.Valid():
		page.Total = env.CountV2.Int()
	}
	return page, nil
}
