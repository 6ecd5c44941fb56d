package cache

import (
	"testing"
	"time"
)

func TestFetchKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  FetchKey
		want string
	}{
		{
			name: "single category",
			key:  NewFetchKey("2015-10-18", []string{"17"}),
			want: "works:2015-10-18:17",
		},
		{
			name: "categories sorted",
			key:  NewFetchKey("2015-10-18", []string{"28", "11", "17"}),
			want: "works:2015-10-18:11|17|28",
		},
		{
			name: "duplicates and blanks dropped",
			key:  NewFetchKey("2015-10-18", []string{"17", " 17 ", "", "11"}),
			want: "works:2015-10-18:11|17",
		},
		{
			name: "no categories",
			key:  NewFetchKey("2015-10-18", nil),
			want: "works:2015-10-18:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("FetchKey.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestFetchKey_Determinism ensures category order never changes the key.
func TestFetchKey_Determinism(t *testing.T) {
	orders := [][]string{
		{"11", "17", "24"},
		{"24", "17", "11"},
		{"17", "24", "11", "17"},
	}

	workday := time.Date(2025, 10, 18, 9, 0, 0, 0, time.UTC)
	first := FetchKeyFor(workday, 5, orders[0]).String()
	for i, cats := range orders {
		for n := 0; n < 3; n++ {
			if got := FetchKeyFor(workday, 5, cats).String(); got != first {
				t.Errorf("order[%d] = %v, want %v (not deterministic)", i, got, first)
			}
		}
	}
}

func TestFetchKeyFor_Date(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}

	tests := []struct {
		name    string
		workday time.Time
		offset  int
		want    string
	}{
		{
			name:    "one year ago",
			workday: time.Date(2025, 10, 18, 8, 0, 0, 0, ny),
			offset:  1,
			want:    "2024-10-18",
		},
		{
			name:    "ten years ago",
			workday: time.Date(2025, 10, 18, 8, 0, 0, 0, ny),
			offset:  10,
			want:    "2015-10-18",
		},
		{
			name:    "leap day clamps to Feb 28",
			workday: time.Date(2028, 2, 29, 8, 0, 0, 0, ny),
			offset:  1,
			want:    "2027-02-28",
		},
		{
			name:    "leap day to leap year keeps Feb 29",
			workday: time.Date(2028, 2, 29, 8, 0, 0, 0, ny),
			offset:  4,
			want:    "2024-02-29",
		},
		{
			name:    "day after leap day is unaffected",
			workday: time.Date(2028, 3, 1, 8, 0, 0, 0, ny),
			offset:  1,
			want:    "2027-03-01",
		},
		{
			name:    "zero offset is the workday itself",
			workday: time.Date(2025, 1, 2, 23, 30, 0, 0, ny),
			offset:  0,
			want:    "2025-01-02",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FetchKeyFor(tt.workday, tt.offset, []string{"17"}).Date; got != tt.want {
				t.Errorf("Date = %v, want %v", got, tt.want)
			}
		})
	}
}
