package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stia/crm-erp-bff/internal/domain"
	"github.com/stia/crm-erp-bff/internal/infra/erp"
	"github.com/stia/crm-erp-bff/internal/mapper"
)

var activityFields = []string{
	"ActivityCode", "ActivityType", "Subject", "Notes", "ActivityDate",
	"StartDate", "EndDate", "CloseDate", "StartTime", "Status",
	"CardCode", "ContactPersonCode", "HandledBy",
}

var activityList = listSpec{
	collection:   erp.Activities,
	fields:       activityFields,
	searchField:  "Notes",
	ownerField:   "HandledBy",
	defaultOrder: "StartDate desc",
	filters: map[string]filterFunc{
		"accountId": equals("CardCode", "accountId"),
		"status":    activityStatus,
		"from":      dateBound("ActivityDate", "from", erp.Ge),
		"to":        dateBound("ActivityDate", "to", erp.Le),
	},
}

func activityStatus(v string) (string, error) {
	switch strings.ToLower(v) {
	case "open", "planned":
		return erp.Eq("Status", -2), nil
	case "closed", "completed":
		return erp.Eq("Status", -3), nil
	}
	return "", &domain.ErrValidation{Field: "status", Message: "must be open or closed"}
}

// ListActivities returns one page of activities. Account and contact
// names are not stored on activities; they are resolved with one batched
// partner lookup per page.
func (c *CRM) ListActivities(ctx context.Context, tenant domain.Tenant, p domain.ListParams, owner *int) (domain.ListResult[domain.Activity], error) {
	ctx, span := tracer.Start(ctx, "CRM.ListActivities")
	defer span.End()
	defer c.observe("list_activities", time.Now())

	q, err := activityList.query(p, owner)
	if err != nil {
		return domain.ListResult[domain.Activity]{}, err
	}
	page, err := erp.FetchPage[erp.Activity](ctx, c.client, tenant, q)
	if err != nil {
		return domain.ListResult[domain.Activity]{}, fmt.Errorf("list %s: %w", erp.Activities, err)
	}

	return domain.ListResult[domain.Activity]{
		Data:  c.mapActivities(ctx, tenant, page.Items),
		Total: page.Total,
	}, nil
}

// GetActivity returns one activity by code.
func (c *CRM) GetActivity(ctx context.Context, tenant domain.Tenant, code int) (*domain.Activity, error) {
	ctx, span := tracer.Start(ctx, "CRM.GetActivity")
	defer span.End()
	defer c.observe("get_activity", time.Now())

	if code <= 0 {
		return nil, &domain.ErrValidation{Field: "id", Message: "must be a positive integer"}
	}
	act, err := erp.Get[erp.Activity](ctx, c.client, tenant, erp.Query{
		Collection: erp.Activities,
		Key:        erp.IntKey(code),
		Select:     activityFields,
	})
	if err != nil {
		return nil, notFound(err, "activity", strconv.Itoa(code))
	}

	mapped := c.mapActivities(ctx, tenant, []erp.Activity{act})
	return &mapped[0], nil
}

func (c *CRM) mapActivities(ctx context.Context, tenant domain.Tenant, acts []erp.Activity) []domain.Activity {
	codes := make([]string, 0, len(acts))
	seen := make(map[string]bool, len(acts))
	for _, a := range acts {
		if a.CardCode != "" && !seen[a.CardCode] && len(codes) < maxPartnerLookups {
			seen[a.CardCode] = true
			codes = append(codes, a.CardCode)
		}
	}
	partners := c.partners(ctx, tenant, codes)
	owners := c.ownerMap(ctx, tenant)

	out := make([]domain.Activity, 0, len(acts))
	for _, a := range acts {
		var names mapper.ActivityNames
		if bp, ok := partners[a.CardCode]; ok {
			names.CardName = bp.CardName
			names.ContactName = contactName(bp, a.ContactPersonCode)
		}
		out = append(out, mapper.Activity(a, names, owners))
	}
	return out
}

// partners fetches the named business partners in one request. On failure
// activities fall back to codes instead of names.
func (c *CRM) partners(ctx context.Context, tenant domain.Tenant, codes []string) map[string]erp.BusinessPartner {
	out := make(map[string]erp.BusinessPartner, len(codes))
	if len(codes) == 0 {
		return out
	}

	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, erp.Eq("CardCode", code))
	}
	page, err := erp.FetchPage[erp.BusinessPartner](ctx, c.client, tenant, erp.Query{
		Collection: erp.BusinessPartners,
		Select:     []string{"CardCode", "CardName", "ContactEmployees"},
		Filter:     erp.Or(parts...),
		Top:        len(codes),
	})
	if err != nil {
		c.logger.Warn("crm: partner name lookup failed",
			zap.String("tenant", tenant.Code),
			zap.Int("partners", len(codes)),
			zap.Error(err),
		)
		return out
	}
	for _, bp := range page.Items {
		out[bp.CardCode] = bp
	}
	return out
}

func contactName(bp erp.BusinessPartner, code erp.Number) string {
	if !code.Valid() {
		return ""
	}
	for _, cp := range bp.ContactEmployees {
		if cp.InternalCode.Valid() && cp.InternalCode.Int() == code.Int() {
			return mapper.ContactName(cp)
		}
	}
	return ""
}
