package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
	"github.com/stia/crm-erp-bff/internal/mapper"
)

// customers restricts business partners to customers; leads and suppliers
// are not CRM accounts.
var customers = erp.Eq("CardType", "C")

var accountFields = []string{
	"CardCode", "CardName", "CardType", "Phone1", "Phone2", "Website",
	"Country", "Industry", "Valid", "SalesPersonCode",
}

var accountList = listSpec{
	collection:   erp.BusinessPartners,
	fields:       accountFields,
	base:         customers,
	searchField:  "CardName",
	ownerField:   "SalesPersonCode",
	defaultOrder: "CardName asc",
	filters: map[string]filterFunc{
		"country": equals("Country", "country"),
	},
}

var contactList = listSpec{
	collection:   erp.BusinessPartners,
	fields:       []string{"CardCode", "CardName", "SalesPersonCode", "ContactEmployees"},
	base:         customers,
	ownerField:   "SalesPersonCode",
	defaultOrder: "CardName asc",
	filters: map[string]filterFunc{
		"accountId": equals("CardCode", "accountId"),
	},
}

// ListAccounts returns one page of customer accounts.
func (c *CRM) ListAccounts(ctx context.Context, tenant domain.Tenant, p domain.ListParams, owner *int) (domain.ListResult[domain.Account], error) {
	ctx, span := tracer.Start(ctx, "CRM.ListAccounts")
	defer span.End()
	defer c.observe("list_accounts", time.Now())

	owners := c.ownerMap(ctx, tenant)
	return listRecords(ctx, c, tenant, accountList, p, owner, func(bp erp.BusinessPartner) domain.Account {
		return mapper.Account(bp, owners)
	})
}

// GetAccount returns one account with its contacts.
func (c *CRM) GetAccount(ctx context.Context, tenant domain.Tenant, cardCode string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "CRM.GetAccount")
	defer span.End()
	defer c.observe("get_account", time.Now())

	cardCode = strings.TrimSpace(cardCode)
	if err := checkText("id", cardCode); err != nil {
		return nil, err
	}

	bp, err := erp.Get[erp.BusinessPartner](ctx, c.client, tenant, erp.Query{
		Collection: erp.BusinessPartners,
		Key:        erp.StringKey(cardCode),
		Select:     append(append([]string(nil), accountFields...), "ContactEmployees"),
	})
	if err != nil {
		return nil, notFound(err, "account", cardCode)
	}

	acc := mapper.Account(bp, c.ownerMap(ctx, tenant))
	return &acc, nil
}

// ListContacts flattens the contact employees of customer partners. The
// ERP has no contacts collection, so partners are read in full (up to a
// cap) and the page is cut in memory. Search matches contact names.
func (c *CRM) ListContacts(ctx context.Context, tenant domain.Tenant, p domain.ListParams, owner *int) (domain.ListResult[domain.Contact], error) {
	ctx, span := tracer.Start(ctx, "CRM.ListContacts")
	defer span.End()
	defer c.observe("list_contacts", time.Now())

	search, err := erp.ValidateSearch(p.Search)
	if err != nil {
		return domain.ListResult[domain.Contact]{}, err
	}

	paging := p
	paging.Search = ""
	q, err := contactList.query(paging, owner)
	if err != nil {
		return domain.ListResult[domain.Contact]{}, err
	}
	top, skip := q.Top, q.Skip
	q.Top, q.Skip, q.InlineCount = maxContactPartners, 0, false

	partners, err := erp.FetchAll[erp.BusinessPartner](ctx, c.client, tenant, q, maxContactPartners)
	if err != nil {
		return domain.ListResult[domain.Contact]{}, fmt.Errorf("list contacts: %w", err)
	}

	owners := c.ownerMap(ctx, tenant)
	needle := strings.ToLower(search)
	all := make([]domain.Contact, 0, len(partners))
	for _, bp := range partners {
		for _, cp := range bp.ContactEmployees {
			if needle != "" && !strings.Contains(strings.ToLower(mapper.ContactName(cp)), needle) {
				continue
			}
			all = append(all, mapper.Contact(cp, bp, owners))
		}
	}

	return domain.ListResult[domain.Contact]{Data: pageOf(all, skip, top), Total: len(all)}, nil
}
