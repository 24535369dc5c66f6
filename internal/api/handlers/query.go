package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

// queryList supports both repeated params and comma-separated values:
//
//	?sku_ids=A&sku_ids=B
//	?sku_ids=A,B
func queryList(c *gin.Context, param string) []string {
	raw := c.QueryArray(param)
	if len(raw) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}

// parseWindow accepts "30", "90", "30d" or "90d". An empty value is the
// short window.
func parseWindow(value string) (int, error) {
	value = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(value)), "d")
	if value == "" {
		return domain.WindowShort, nil
	}
	days, err := strconv.Atoi(value)
	if err != nil || (days != domain.WindowShort && days != domain.WindowLong) {
		return 0, fmt.Errorf("window must be %dd or %dd", domain.WindowShort, domain.WindowLong)
	}
	return days, nil
}

func parseMetricsFilter(c *gin.Context) (domain.MetricsFilter, error) {
	filter := domain.MetricsFilter{
		Page:     1,
		PageSize: 50,
	}

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && page > 0 {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "50")); err == nil && size > 0 {
		filter.PageSize = size
	}

	window, err := parseWindow(c.Query("window"))
	if err != nil {
		return filter, err
	}
	filter.Window = window

	filter.SKUIDs = queryList(c, "sku_ids")
	filter.WarehouseIDs = queryList(c, "warehouse_ids")

	for _, label := range queryList(c, "doh_states") {
		state, ok := domain.ParseDOHState(label)
		if !ok {
			return filter, fmt.Errorf("unknown doh state %q", label)
		}
		filter.DOHStates = append(filter.DOHStates, state)
	}
	for _, label := range queryList(c, "balance_states") {
		state, ok := domain.ParseBalanceState(label)
		if !ok {
			return filter, fmt.Errorf("unknown balance state %q", label)
		}
		filter.BalanceStates = append(filter.BalanceStates, state)
	}

	return filter, nil
}

func parseThreshold(value string) (*decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil || !d.IsPositive() {
		return nil, fmt.Errorf("threshold must be a positive number, got %q", value)
	}
	return &d, nil
}
