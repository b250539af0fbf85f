// Package erptest provides an in-process fake of the ERP Service Layer for
// tests: login, entity-by-key reads and collection reads with a subset of
// the OData filter grammar, inline counts and server-driven paging.
package erptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stia/crm-erp-bff/internal/infra/erp"
	"github.com/stia/crm-erp-bff/internal/infra/observability"
	"github.com/stia/crm-erp-bff/internal/infra/resilience"
)

// Record is one raw ERP row.
type Record = map[string]any

var keyFields = map[string]string{
	erp.Quotations:       "DocEntry",
	erp.Orders:           "DocEntry",
	erp.Invoices:         "DocEntry",
	erp.BusinessPartners: "CardCode",
	erp.Items:            "ItemCode",
	erp.Activities:       "ActivityCode",
	erp.SalesPersons:     "SalesEmployeeCode",
}

// Server is a fake Service Layer. The zero value is not usable; call NewServer.
type Server struct {
	*httptest.Server

	// PageSize caps the records per response; larger results carry a next link.
	PageSize int

	mu          sync.Mutex
	logins      int
	tokens      map[string]bool
	collections map[string][]Record
	failures    map[string]int
	requests    []*url.URL
}

// NewServer starts a fake Service Layer closed at test cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		tokens:      make(map[string]bool),
		collections: make(map[string][]Record),
		failures:    make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Add appends records to a collection. Records are normalised through JSON
// so they look exactly as a decoded wire payload would.
func (s *Server) Add(collection string, records ...Record) {
	normalised := make([]Record, 0, len(records))
	for _, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			panic(fmt.Sprintf("erptest: unencodable record: %v", err))
		}
		var out Record
		if err := json.Unmarshal(raw, &out); err != nil {
			panic(fmt.Sprintf("erptest: undecodable record: %v", err))
		}
		normalised = append(normalised, out)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = append(s.collections[collection], normalised...)
}

// Fail makes every read of collection answer with status.
func (s *Server) Fail(collection string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[collection] = status
}

// ExpireSessions invalidates every issued token.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]bool)
}

// Logins returns how many successful logins were served.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Requests returns the data requests received so far, logins excluded.
func (s *Server) Requests() []*url.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*url.URL(nil), s.requests...)
}

// Filters returns the $filter of every request made to collection.
func (s *Server) Filters(collection string) []string {
	var out []string
	for _, u := range s.Requests() {
		if strings.HasPrefix(strings.TrimPrefix(u.Path, "/"), collection) {
			out = append(out, u.Query().Get("$filter"))
		}
	}
	return out
}

// NewClient builds a fully wired ERP client against s.
func (s *Server) NewClient(metrics *observability.Metrics) *erp.Client {
	logger := zap.NewNop()
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	sessions := erp.NewSessionManager(s.Client(), s.URL, erp.Credentials{User: "manager", Password: "secret"},
		erp.DefaultSessionTTL, 5*time.Second, resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}, metrics, logger)
	return erp.NewClient(s.Client(), erp.Config{BaseURL: s.URL, Timeout: 5 * time.Second, MaxPageSize: 500}, sessions,
		resilience.NewTenantBreakers("erptest", erp.IgnoredByBreaker, logger),
		resilience.NewTenantLimiter(0, 1), resilience.NewBulkhead(16), metrics, logger)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/Login" {
		s.login(w, r)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, r.URL)
	cookie, err := r.Cookie(erp.SessionCookie)
	valid := err == nil && s.tokens[cookie.Value]
	s.mu.Unlock()

	if !valid {
		writeError(w, http.StatusUnauthorized, "Invalid session or session already timeout.")
		return
	}

	collection, key := splitPath(strings.TrimPrefix(r.URL.Path, "/"))

	s.mu.Lock()
	status := s.failures[collection]
	rows := append([]Record(nil), s.collections[collection]...)
	s.mu.Unlock()

	if status != 0 {
		writeError(w, status, "simulated failure")
		return
	}
	if key != "" {
		s.entity(w, collection, key, rows)
		return
	}
	s.list(w, r, collection, rows)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CompanyDB string `json:"CompanyDB"`
		UserName  string `json:"UserName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CompanyDB == "" || body.UserName == "" {
		writeError(w, http.StatusUnauthorized, "Fail to get DB Credentials")
		return
	}

	s.mu.Lock()
	s.logins++
	token := fmt.Sprintf("%s-%d", body.CompanyDB, s.logins)
	s.tokens[token] = true
	s.mu.Unlock()

	writeJSON(w, Record{"SessionId": token, "Version": "1000190", "SessionTimeout": 30})
}

func (s *Server) entity(w http.ResponseWriter, collection, key string, rows []Record) {
	field := keyFields[collection]
	for _, rec := range rows {
		if literal(rec[field]) == key {
			writeJSON(w, rec)
			return
		}
	}
	writeError(w, http.StatusNotFound, "No matching records found (ODBC -2028)")
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, collection string, rows []Record) {
	q := r.URL.Query()

	var matched []Record
	for _, rec := range rows {
		if match(q.Get("$filter"), rec) {
			matched = append(matched, rec)
		}
	}
	total := len(matched)

	skip, _ := strconv.Atoi(q.Get("$skip"))
	top, _ := strconv.Atoi(q.Get("$top"))
	if skip > len(matched) {
		skip = len(matched)
	}
	matched = matched[skip:]

	limit := len(matched)
	if top > 0 && top < limit {
		limit = top
	}
	next := ""
	if s.PageSize > 0 && s.PageSize < limit {
		limit = s.PageSize
		nq := url.Values{}
		for k, v := range q {
			nq[k] = v
		}
		nq.Set("$skip", strconv.Itoa(skip+limit))
		if top > 0 {
			nq.Set("$top", strconv.Itoa(top-limit))
		}
		next = collection + "?" + nq.Encode()
	}

	resp := Record{"value": matched[:limit]}
	if q.Get("$inlinecount") == "allpages" {
		resp["odata.count"] = total
	}
	if next != "" {
		resp["odata.nextLink"] = next
	}
	writeJSON(w, resp)
}

func splitPath(p string) (collection, key string) {
	open := strings.IndexByte(p, '(')
	if open < 0 || !strings.HasSuffix(p, ")") {
		return p, ""
	}
	key = p[open+1 : len(p)-1]
	if strings.HasPrefix(key, "'") && strings.HasSuffix(key, "'") && len(key) >= 2 {
		key = strings.ReplaceAll(key[1:len(key)-1], "''", "'")
	}
	return p[:open], key
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Record{"error": Record{"code": -1, "message": Record{"lang": "en-us", "value": msg}}})
}

// ============================================================
// Filter evaluation
// ============================================================

var (
	anyLineExpr  = regexp.MustCompile(`^DocumentLines/any\(d: d/BaseEntry eq (\d+) and d/BaseType eq (\d+)\)$`)
	containsExpr = regexp.MustCompile(`^contains\((\w+),'(.*)'\)$`)
	compareExpr  = regexp.MustCompile(`^(\w+) (eq|ne|ge|gt|le|lt) (.+)$`)
)

func match(filter string, rec Record) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	if inner, ok := unwrap(filter); ok {
		return match(inner, rec)
	}
	if parts := splitTop(filter, " or "); len(parts) > 1 {
		for _, p := range parts {
			if match(p, rec) {
				return true
			}
		}
		return false
	}
	if parts := splitTop(filter, " and "); len(parts) > 1 {
		for _, p := range parts {
			if !match(p, rec) {
				return false
			}
		}
		return true
	}
	return atom(filter, rec)
}

func atom(expr string, rec Record) bool {
	if m := anyLineExpr.FindStringSubmatch(expr); m != nil {
		lines, _ := rec["DocumentLines"].([]any)
		for _, l := range lines {
			line, _ := l.(map[string]any)
			if literal(line["BaseEntry"]) == m[1] && literal(line["BaseType"]) == m[2] {
				return true
			}
		}
		return false
	}
	if m := containsExpr.FindStringSubmatch(expr); m != nil {
		needle := strings.ToLower(strings.ReplaceAll(m[2], "''", "'"))
		return strings.Contains(strings.ToLower(literal(rec[m[1]])), needle)
	}
	if m := compareExpr.FindStringSubmatch(expr); m != nil {
		return compare(literal(rec[m[1]]), m[2], m[3])
	}
	return false
}

func compare(have, op, raw string) bool {
	want := raw
	if strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'") && len(raw) >= 2 {
		want = strings.ReplaceAll(raw[1:len(raw)-1], "''", "'")
	}

	var cmp int
	hf, herr := strconv.ParseFloat(have, 64)
	wf, werr := strconv.ParseFloat(want, 64)
	switch {
	case herr == nil && werr == nil:
		switch {
		case hf < wf:
			cmp = -1
		case hf > wf:
			cmp = 1
		}
	default:
		// dates compare lexically once reduced to their date part
		cmp = strings.Compare(datePart(have), datePart(want))
	}

	switch op {
	case "eq":
		return cmp == 0
	case "ne":
		return cmp != 0
	case "ge":
		return cmp >= 0
	case "gt":
		return cmp > 0
	case "le":
		return cmp <= 0
	case "lt":
		return cmp < 0
	}
	return false
}

func datePart(s string) string {
	if len(s) > 10 && s[4] == '-' && s[7] == '-' {
		return s[:10]
	}
	return s
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}

// unwrap strips one pair of parentheses enclosing the whole expression.
func unwrap(expr string) (string, bool) {
	if !strings.HasPrefix(expr, "(") || !strings.HasSuffix(expr, ")") {
		return "", false
	}
	depth, quoted := 0, false
	for i, r := range expr {
		switch {
		case r == '\'':
			quoted = !quoted
		case quoted:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth == 0 && i != len(expr)-1 {
				return "", false
			}
		}
	}
	return expr[1 : len(expr)-1], true
}

// splitTop splits expr on sep occurrences outside parentheses and literals.
func splitTop(expr, sep string) []string {
	var parts []string
	depth, quoted, start := 0, false, 0
	for i := 0; i < len(expr); i++ {
		switch c := expr[i]; {
		case c == '\'':
			quoted = !quoted
		case quoted:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && strings.HasPrefix(expr[i:], sep):
			parts = append(parts, expr[start:i])
			i += len(sep) - 1
			start = i + 1
		}
	}
	return append(parts, expr[start:])
}
