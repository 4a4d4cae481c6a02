// Package inventory 聚合家庭库存视图：筛选、分面计数与临期提醒。
package inventory

import (
	"sort"
	"strings"
	"time"

	"github.com/Jun20220703/bit216as/internal/model"
)

// ExpiringSoonDays 临期提醒窗口（含当天）。
const ExpiringSoonDays = 5

// Filter 库存筛选条件，空值表示不过滤。
type Filter struct {
	Status     model.ItemStatus
	Categories []string // 多选，任一命中即可
	Storage    string
	Query      string // 名称模糊匹配
}

// Facet 单个分面取值及计数。
type Facet struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// View 筛选后的库存视图。
type View struct {
	Items        []model.FoodItem `json:"items"`
	Locations    []Facet          `json:"locations"`
	Categories   []Facet          `json:"categories"`
	ExpiringSoon []model.FoodItem `json:"expiringSoon"`
	Total        int              `json:"total"`
}

// Summarize 对原始列表应用筛选并计算分面。
//
// 每个分面在计数时忽略自身维度的筛选、保留其他维度，
// 这样用户切换某个维度时能看到各选项对应的数量。
func Summarize(items []model.FoodItem, f Filter, now time.Time) View {
	cats := make(map[string]struct{}, len(f.Categories))
	for _, c := range f.Categories {
		if c = strings.TrimSpace(c); c != "" {
			cats[strings.ToLower(c)] = struct{}{}
		}
	}
	query := strings.ToLower(strings.TrimSpace(f.Query))

	matchStatus := func(it *model.FoodItem) bool { return f.Status == "" || it.Status == f.Status }
	matchQuery := func(it *model.FoodItem) bool {
		return query == "" || strings.Contains(strings.ToLower(it.Name), query)
	}
	matchCategory := func(it *model.FoodItem) bool {
		if len(cats) == 0 {
			return true
		}
		_, ok := cats[strings.ToLower(it.Category)]
		return ok
	}
	matchStorage := func(it *model.FoodItem) bool {
		return f.Storage == "" || strings.EqualFold(it.Storage, f.Storage)
	}

	view := View{Items: make([]model.FoodItem, 0), ExpiringSoon: make([]model.FoodItem, 0)}
	locCounts := make(map[string]int)
	catCounts := make(map[string]int)

	for i := range items {
		it := &items[i]
		if !matchStatus(it) || !matchQuery(it) {
			continue
		}
		if matchCategory(it) && it.Storage != "" {
			locCounts[it.Storage]++
		}
		if matchStorage(it) && it.Category != "" {
			catCounts[it.Category]++
		}
		if !matchCategory(it) || !matchStorage(it) {
			continue
		}
		view.Items = append(view.Items, *it)
		if it.Status == model.StatusInventory && it.ExpiringSoon(now) {
			view.ExpiringSoon = append(view.ExpiringSoon, *it)
		}
	}

	sort.SliceStable(view.Items, func(i, j int) bool { return view.Items[i].Expiry.Before(view.Items[j].Expiry) })
	view.Locations = facets(locCounts)
	view.Categories = facets(catCounts)
	view.Total = len(view.Items)
	return view
}

func facets(counts map[string]int) []Facet {
	out := make([]Facet, 0, len(counts))
	for name, n := range counts {
		out = append(out, Facet{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
