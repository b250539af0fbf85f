package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
	"github.com/stia/crm-erp-bff/internal/mapper"
)

const (
	client360Top     = 20
	agendaTop        = 10
	agendaActivities = 20
	expiryWindow     = 7 * 24 * time.Hour
	topSellers       = 5

	defaultSearchLimit = 5
	maxSearchLimit     = 10
	minSearchLength    = 2
)

// degradation collects the sections of an aggregate view that failed and
// were served empty.
type degradation struct {
	c    *CRM
	view string

	mu       sync.Mutex
	sections []string
}

func (d *degradation) fail(tenant domain.Tenant, section string, err error) {
	d.c.logger.Warn("crm: serving section empty",
		zap.String("view", d.view),
		zap.String("section", section),
		zap.String("tenant", tenant.Code),
		zap.Error(err),
	)
	d.c.metrics.IncrDegraded(d.view, section)

	d.mu.Lock()
	d.sections = append(d.sections, section)
	d.mu.Unlock()
}

func (d *degradation) list() []string {
	sort.Strings(d.sections)
	return d.sections
}

// Client360 fetches an account together with its recent quotes, orders,
// invoices and activities concurrently. The account is required; any other
// section that fails is returned empty and named in Degraded.
func (c *CRM) Client360(ctx context.Context, tenant domain.Tenant, cardCode string, owner *int) (*domain.Client360, error) {
	ctx, span := tracer.Start(ctx, "CRM.Client360")
	defer span.End()
	defer c.observe("client_360", time.Now())

	out := &domain.Client360{
		Quotes:     []domain.Quote{},
		Orders:     []domain.Order{},
		Invoices:   []domain.Invoice{},
		Activities: []domain.Activity{},
	}
	deg := &degradation{c: c, view: "client360"}
	params := domain.ListParams{Top: client360Top, Filters: map[string]string{"accountId": cardCode}}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		acc, err := c.GetAccount(gctx, tenant, cardCode)
		if err != nil {
			return err
		}
		out.Account = acc
		return nil
	})

	g.Go(func() error {
		res, err := c.ListQuotes(gctx, tenant, params, owner)
		if err != nil {
			deg.fail(tenant, "quotes", err)
			return nil
		}
		out.Quotes = res.Data
		return nil
	})

	g.Go(func() error {
		res, err := c.ListOrders(gctx, tenant, params, owner)
		if err != nil {
			deg.fail(tenant, "orders", err)
			return nil
		}
		out.Orders = res.Data
		return nil
	})

	g.Go(func() error {
		res, err := c.ListInvoices(gctx, tenant, params, owner)
		if err != nil {
			deg.fail(tenant, "invoices", err)
			return nil
		}
		out.Invoices = res.Data
		return nil
	})

	g.Go(func() error {
		res, err := c.ListActivities(gctx, tenant, params, owner)
		if err != nil {
			deg.fail(tenant, "activities", err)
			return nil
		}
		out.Activities = res.Data
		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	out.Degraded = deg.list()
	return out, nil
}

// MyDay builds the daily agenda: open invoices past due, open quotes
// expiring within a week and activities dated today.
func (c *CRM) MyDay(ctx context.Context, tenant domain.Tenant, owner *int) (*domain.MyDay, error) {
	ctx, span := tracer.Start(ctx, "CRM.MyDay")
	defer span.End()
	defer c.observe("my_day", time.Now())

	now := c.now()
	today := dateOnly(now)
	open := erp.Eq("DocumentStatus", "bost_Open")
	bySeller, byHandler := "", ""
	if owner != nil {
		bySeller = erp.Eq("SalesPersonCode", *owner)
		byHandler = erp.Eq("HandledBy", *owner)
	}
	dueFields := []string{"DocEntry", "DocNum", "CardCode", "CardName", "DocTotal", "DocDueDate"}

	out := &domain.MyDay{
		OverdueInvoices: []domain.DueDocument{},
		ExpiringQuotes:  []domain.DueDocument{},
		TodayActivities: []domain.Activity{},
	}
	deg := &degradation{c: c, view: "my_day"}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		page, err := erp.FetchPage[erp.Document](gctx, c.client, tenant, erp.Query{
			Collection: erp.Invoices,
			Select:     dueFields,
			Filter:     erp.And(erp.Lt("DocDueDate", today), open, bySeller),
			OrderBy:    "DocDueDate asc",
			Top:        agendaTop,
		})
		if err != nil {
			deg.fail(tenant, "overdueInvoices", err)
			return nil
		}
		for _, doc := range page.Items {
			item := dueDocument(domain.KindInvoice, doc)
			if item.DueDate != nil {
				item.Days = ceilDays(now.Sub(*item.DueDate))
			}
			out.OverdueInvoices = append(out.OverdueInvoices, item)
		}
		return nil
	})

	g.Go(func() error {
		page, err := erp.FetchPage[erp.Document](gctx, c.client, tenant, erp.Query{
			Collection: erp.Quotations,
			Select:     dueFields,
			Filter: erp.And(open,
				erp.Ge("DocDueDate", today),
				erp.Le("DocDueDate", dateOnly(now.Add(expiryWindow))),
				bySeller),
			OrderBy: "DocDueDate asc",
			Top:     agendaTop,
		})
		if err != nil {
			deg.fail(tenant, "expiringQuotes", err)
			return nil
		}
		for _, doc := range page.Items {
			item := dueDocument(domain.KindQuote, doc)
			if item.DueDate != nil {
				item.Days = ceilDays(item.DueDate.Sub(now))
			}
			out.ExpiringQuotes = append(out.ExpiringQuotes, item)
		}
		return nil
	})

	g.Go(func() error {
		page, err := erp.FetchPage[erp.Activity](gctx, c.client, tenant, erp.Query{
			Collection: erp.Activities,
			Select:     activityFields,
			Filter:     erp.And(erp.Eq("ActivityDate", today), byHandler),
			Top:        agendaActivities,
		})
		if err != nil {
			deg.fail(tenant, "todayActivities", err)
			return nil
		}
		out.TodayActivities = c.mapActivities(gctx, tenant, page.Items)
		return nil
	})

	_ = g.Wait()
	out.Degraded = deg.list()
	return out, nil
}

func dueDocument(kind domain.DocumentKind, doc erp.Document) domain.DueDocument {
	client := doc.CardName
	if client == "" {
		client = doc.CardCode
	}
	return domain.DueDocument{
		Kind:     kind,
		DocEntry: doc.DocEntry.Int(),
		DocNum:   doc.DocNum.Int(),
		Client:   client,
		Amount:   doc.DocTotal.Decimal(),
		DueDate:  mapper.ParseDate(doc.DocDueDate),
	}
}

func ceilDays(d time.Duration) int {
	return int(math.Ceil(d.Hours() / 24))
}

// Dashboard summarises the current month: invoiced revenue with the top
// sellers, the open pipeline and the number of open activities. Sections
// that cannot be fetched are left zero and named in Degraded.
func (c *CRM) Dashboard(ctx context.Context, tenant domain.Tenant, owner *int) (*domain.Dashboard, error) {
	ctx, span := tracer.Start(ctx, "CRM.Dashboard")
	defer span.End()
	defer c.observe("dashboard", time.Now())

	now := c.now()
	bySeller, byHandler := "", ""
	if owner != nil {
		bySeller = erp.Eq("SalesPersonCode", *owner)
		byHandler = erp.Eq("HandledBy", *owner)
	}
	open := erp.Eq("DocumentStatus", "bost_Open")
	directory := c.ownerMap(ctx, tenant)

	out := &domain.Dashboard{Currency: tenant.Currency, TopSellers: []domain.SellerStat{}}
	deg := &degradation{c: c, view: "dashboard"}

	g, gctx := errgroup.WithContext(ctx)

	pipeline := func(collection, section string, dst *domain.DocumentTotals) func() error {
		return func() error {
			page, err := erp.FetchPage[erp.Document](gctx, c.client, tenant, erp.Query{
				Collection:  collection,
				Select:      []string{"DocEntry", "DocTotal"},
				Filter:      erp.And(open, bySeller),
				Top:         maxTop,
				InlineCount: true,
			})
			if err != nil {
				deg.fail(tenant, section, err)
				return nil
			}
			// Value covers the first page only; Count is the server total.
			*dst = totals(page.Items)
			dst.Count = page.Total
			return nil
		}
	}
	g.Go(pipeline(erp.Quotations, "openQuotes", &out.OpenQuotes))
	g.Go(pipeline(erp.Orders, "openOrders", &out.OpenOrders))

	g.Go(func() error {
		invoices, err := erp.FetchAll[erp.Document](gctx, c.client, tenant, erp.Query{
			Collection: erp.Invoices,
			Select:     []string{"DocEntry", "DocTotal", "SalesPersonCode"},
			Filter:     erp.And(erp.Ge("DocDate", dateOnly(startOfMonth(now))), bySeller),
			Top:        maxStatsInvoices,
		}, maxStatsInvoices)
		if err != nil {
			deg.fail(tenant, "revenue", err)
			return nil
		}
		sum := totals(invoices)
		out.RevenueMTD, out.InvoicesMTD = sum.Value, sum.Count
		out.TopSellers = rankSellers(invoices, directory)
		return nil
	})

	g.Go(func() error {
		page, err := erp.FetchPage[erp.Activity](gctx, c.client, tenant, erp.Query{
			Collection:  erp.Activities,
			Select:      []string{"ActivityCode"},
			Filter:      erp.And(erp.Eq("Status", -2), byHandler),
			Top:         1,
			InlineCount: true,
		})
		if err != nil {
			deg.fail(tenant, "openActivities", err)
			return nil
		}
		out.OpenActivities = page.Total
		return nil
	})

	_ = g.Wait()
	out.Degraded = deg.list()
	return out, nil
}

func totals(docs []erp.Document) domain.DocumentTotals {
	t := domain.DocumentTotals{Count: len(docs)}
	for _, d := range docs {
		t.Value = t.Value.Add(d.DocTotal.Decimal())
	}
	return t
}

// rankSellers groups invoices by salesperson, highest revenue first.
// Invoices without a salesperson are left out.
func rankSellers(invoices []erp.Document, directory mapper.Owners) []domain.SellerStat {
	byCode := map[int]*domain.SellerStat{}
	for _, inv := range invoices {
		if !inv.SalesPersonCode.Valid() || inv.SalesPersonCode.Int() < 0 {
			continue
		}
		code := inv.SalesPersonCode.Int()
		s, ok := byCode[code]
		if !ok {
			name := directory[code]
			if name == "" {
				name = "Seller " + strconv.Itoa(code)
			}
			s = &domain.SellerStat{Code: code, Name: name, Revenue: decimal.Zero}
			byCode[code] = s
		}
		s.Deals++
		s.Revenue = s.Revenue.Add(inv.DocTotal.Decimal())
	}

	out := make([]domain.SellerStat, 0, len(byCode))
	for _, s := range byCode {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].Revenue.Cmp(out[j].Revenue); cmp != 0 {
			return cmp > 0
		}
		return out[i].Code < out[j].Code
	})
	if len(out) > topSellers {
		out = out[:topSellers]
	}
	return out
}

// Aging buckets the open invoices with an outstanding balance by days
// overdue: current (not yet due), 1-30, 31-60, 61-90 and over 90. Invoices
// without a due date count as current.
func (c *CRM) Aging(ctx context.Context, tenant domain.Tenant, owner *int) (*domain.Aging, error) {
	ctx, span := tracer.Start(ctx, "CRM.Aging")
	defer span.End()
	defer c.observe("aging", time.Now())

	filter := erp.Eq("DocumentStatus", "bost_Open")
	if owner != nil {
		filter = erp.And(filter, erp.Eq("SalesPersonCode", *owner))
	}
	invoices, err := erp.FetchAll[erp.Document](ctx, c.client, tenant, erp.Query{
		Collection: erp.Invoices,
		Select:     []string{"DocEntry", "DocNum", "CardCode", "CardName", "DocTotal", "DocDate", "DocDueDate", "PaidToDate", "SalesPersonCode"},
		Filter:     filter,
		OrderBy:    "DocDueDate asc",
		Top:        maxTop,
	}, maxTop)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("aging: %w", err)
	}

	directory := c.ownerMap(ctx, tenant)
	now := c.now()
	out := &domain.Aging{Currency: tenant.Currency, Details: []domain.AgingEntry{}}
	var buckets [5][]domain.AgingEntry

	for _, inv := range invoices {
		total, paid := inv.DocTotal.Decimal(), inv.PaidToDate.Decimal()
		balance := total.Sub(paid)
		if !balance.IsPositive() {
			continue
		}

		entry := dueEntry(inv, directory)
		entry.Total, entry.Paid, entry.Balance = total, paid, balance
		days := 0
		if entry.DueDate != nil {
			days = int(math.Floor(now.Sub(*entry.DueDate).Hours() / 24))
		}
		if days > 0 {
			entry.DaysOverdue = days
		}

		i := agingBucket(days)
		entry.Bucket = agingBuckets[i]
		buckets[i] = append(buckets[i], entry)

		out.Summary.TotalOpen = out.Summary.TotalOpen.Add(balance)
		b := summaryBucket(&out.Summary, i)
		b.Count++
		b.Amount = b.Amount.Add(balance)
	}

	for i := len(buckets) - 1; i >= 0; i-- {
		out.Details = append(out.Details, buckets[i]...)
	}
	return out, nil
}

var agingBuckets = [5]string{"current", "days30", "days60", "days90", "over90"}

func agingBucket(daysOverdue int) int {
	switch {
	case daysOverdue <= 0:
		return 0
	case daysOverdue <= 30:
		return 1
	case daysOverdue <= 60:
		return 2
	case daysOverdue <= 90:
		return 3
	default:
		return 4
	}
}

func summaryBucket(s *domain.AgingSummary, i int) *domain.AgingBucket {
	switch i {
	case 1:
		return &s.Days30
	case 2:
		return &s.Days60
	case 3:
		return &s.Days90
	case 4:
		return &s.Over90
	default:
		return &s.Current
	}
}

func dueEntry(inv erp.Document, directory mapper.Owners) domain.AgingEntry {
	client := inv.CardName
	if client == "" {
		client = inv.CardCode
	}
	seller := ""
	if inv.SalesPersonCode.Valid() {
		seller = directory[inv.SalesPersonCode.Int()]
	}
	return domain.AgingEntry{
		DocEntry: inv.DocEntry.Int(),
		DocNum:   inv.DocNum.Int(),
		Client:   client,
		CardCode: inv.CardCode,
		DueDate:  mapper.ParseDate(inv.DocDueDate),
		Seller:   seller,
	}
}

// Search looks text up across accounts, contacts, quotes, orders and
// invoices concurrently, returning at most limit matches of each. Queries
// shorter than two characters match nothing. Sections that fail are
// returned empty and named in Degraded.
func (c *CRM) Search(ctx context.Context, tenant domain.Tenant, text string, limit int, owner *int) (*domain.SearchResults, error) {
	ctx, span := tracer.Start(ctx, "CRM.Search")
	defer span.End()
	defer c.observe("search", time.Now())

	q, err := erp.ValidateSearch(text)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, &domain.ErrValidation{Field: "limit", Message: "must not be negative"}
	}
	if limit == 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	out := &domain.SearchResults{
		Query:    q,
		Accounts: []domain.Account{},
		Contacts: []domain.Contact{},
		Quotes:   []domain.Quote{},
		Orders:   []domain.Order{},
		Invoices: []domain.Invoice{},
	}
	if utf8.RuneCountInString(q) < minSearchLength {
		return out, nil
	}

	params := domain.ListParams{Top: limit, Search: q}
	deg := &degradation{c: c, view: "search"}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res, err := c.ListAccounts(gctx, tenant, params, owner)
		if err != nil {
			deg.fail(tenant, "accounts", err)
			return nil
		}
		out.Accounts = res.Data
		return nil
	})

	g.Go(func() error {
		res, err := c.ListContacts(gctx, tenant, params, owner)
		if err != nil {
			deg.fail(tenant, "contacts", err)
			return nil
		}
		out.Contacts = res.Data
		return nil
	})

	g.Go(func() error {
		res, err := c.ListQuotes(gctx, tenant, params, owner)
		if err != nil {
			deg.fail(tenant, "quotes", err)
			return nil
		}
		out.Quotes = res.Data
		return nil
	})

	g.Go(func() error {
		res, err := c.ListOrders(gctx, tenant, params, owner)
		if err != nil {
			deg.fail(tenant, "orders", err)
			return nil
		}
		out.Orders = res.Data
		return nil
	})

	g.Go(func() error {
		res, err := c.ListInvoices(gctx, tenant, params, owner)
		if err != nil {
			deg.fail(tenant, "invoices", err)
			return nil
		}
		out.Invoices = res.Data
		return nil
	})

	_ = g.Wait()
	out.Degraded = deg.list()
	return out, nil
}
