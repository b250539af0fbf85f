package service

import (
	"context"
	"strings"
	"time"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
	"github.com/stia/crm-erp-bff/internal/mapper"
)

var productList = listSpec{
	collection: erp.Items,
	fields: []string{
		"ItemCode", "ItemName", "ItemsGroupCode", "QuantityOnStock", "Frozen", "ItemPrices",
	},
	searchField:  "ItemName",
	defaultOrder: "ItemName asc",
	filters: map[string]filterFunc{
		"category": integer("ItemsGroupCode", "category"),
		"active":   yesNo("Frozen", "active", true),
	},
}

// ListProducts returns one page of items priced in the tenant currency.
// Items have no owner, so owner is ignored.
func (c *CRM) ListProducts(ctx context.Context, tenant domain.Tenant, p domain.ListParams, owner *int) (domain.ListResult[domain.Product], error) {
	ctx, span := tracer.Start(ctx, "CRM.ListProducts")
	defer span.End()
	defer c.observe("list_products", time.Now())

	return listRecords(ctx, c, tenant, productList, p, owner, func(item erp.Item) domain.Product {
		return mapper.Product(item, tenant.Currency)
	})
}

// GetProduct returns one item by code.
func (c *CRM) GetProduct(ctx context.Context, tenant domain.Tenant, itemCode string) (*domain.Product, error) {
	ctx, span := tracer.Start(ctx, "CRM.GetProduct")
	defer span.End()
	defer c.observe("get_product", time.Now())

	itemCode = strings.TrimSpace(itemCode)
	if err := checkText("id", itemCode); err != nil {
		return nil, err
	}

	item, err := erp.Get[erp.Item](ctx, c.client, tenant, erp.Query{
		Collection: erp.Items,
		Key:        erp.StringKey(itemCode),
		Select:     productList.fields,
	})
	if err != nil {
		return nil, notFound(err, "product", itemCode)
	}

	product := mapper.Product(item, tenant.Currency)
	return &product, nil
}
