package pagination

import (
	"net/url"
	"reflect"
	"testing"
)

func TestFromQuery(t *testing.T) {
	tests := []struct {
		query string
		opts  []Option
		want  Params
	}{
		{"", nil, Params{Page: 1, Limit: 20, Offset: 0, Sort: "newest"}},
		{"page=3&limit=5&sort=oldest", nil, Params{Page: 3, Limit: 5, Offset: 10, Sort: "oldest"}},
		{"page=-1&limit=abc&sort=random", nil, Params{Page: 1, Limit: 20, Offset: 0, Sort: "newest"}},
		{"limit=500", nil, Params{Page: 1, Limit: MaxLimit, Offset: 0, Sort: "newest"}},
		{"page=2", []Option{WithDefaultLimit(7), WithDefaultSort("oldest")}, Params{Page: 2, Limit: 7, Offset: 7, Sort: "oldest"}},
		{"", []Option{WithDefaultLimit(0), WithDefaultSort("bogus")}, Params{Page: 1, Limit: 20, Offset: 0, Sort: "newest"}},
		{"page=100000000000000001&limit=100", nil, Params{Page: MaxPage, Limit: 100, Offset: (MaxPage - 1) * 100, Sort: "newest"}},
	}
	for _, tt := range tests {
		q, _ := url.ParseQuery(tt.query)
		if got := FromQuery(q, tt.opts...); got != tt.want {
			t.Errorf("FromQuery(%q) = %+v, want %+v", tt.query, got, tt.want)
		}
	}
}

func TestSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	tests := []struct {
		page, limit int
		want        []int
		hasNext     bool
	}{
		{1, 2, []int{1, 2}, true},
		{3, 2, []int{5}, false},
		{2, 5, []int{}, false},
		{1, 5, []int{1, 2, 3, 4, 5}, false},
		{MaxPage, MaxLimit, []int{}, false},
	}
	for _, tt := range tests {
		p := Params{Page: tt.page, Limit: tt.limit, Offset: (tt.page - 1) * tt.limit}
		got := Slice(items, p)
		if !reflect.DeepEqual(got.Items, tt.want) || got.HasNext != tt.hasNext || got.Total != 5 {
			t.Errorf("Slice(page %d, limit %d) = %+v, want %v hasNext=%v", tt.page, tt.limit, got, tt.want, tt.hasNext)
		}
	}

	got := Slice(items, Params{Page: 1, Limit: 2, Offset: -10})
	if !reflect.DeepEqual(got.Items, []int{1, 2}) {
		t.Errorf("Slice with negative offset = %v, want [1 2]", got.Items)
	}
}
