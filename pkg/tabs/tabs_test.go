package tabs

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func sampleTabs() []Tab {
	return []Tab{
		{ID: 3, WindowID: 1, Active: true, Focused: true},
		{ID: 1, WindowID: 1},
		{ID: 7, WindowID: 2, Active: true},
		{ID: 9, WindowID: 2},
	}
}

func TestFilter_Matches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []int
	}{
		{"all", Filter{}, []int{1, 3, 7, 9}},
		{"active", ActiveFilter(), []int{3, 7}},
		{"window 2", Filter{WindowID: 2}, []int{7, 9}},
		{"focused window", Filter{LastFocusedWindow: true}, []int{3}},
		{"active in window 2", Filter{Active: true, WindowID: 2}, []int{7}},
	}

	store := NewStaticStore(sampleTabs())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := store.ListTabs(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("tabs:tabs_test - ListTabs failed: %v", err)
			}
			if got := IDs(list); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("tabs:tabs_test - ids = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStaticStore_PutRemove(t *testing.T) {
	store := NewStaticStore(nil)
	store.Put(Tab{ID: 4})
	store.Put(Tab{ID: 2})
	store.Remove(4)

	list, _ := store.ListTabs(context.Background(), Filter{})
	if got := IDs(list); !reflect.DeepEqual(got, []int{2}) {
		t.Errorf("tabs:tabs_test - ids = %v, want [2]", got)
	}
}

func TestStoreEnumerator(t *testing.T) {
	e := StoreEnumerator{Store: NewStaticStore(sampleTabs())}

	var got []int
	calls := 0
	e.QueryTabs(context.Background(), ActiveFilter(), func(ids []int, err error) {
		calls++
		if err != nil {
			t.Errorf("tabs:tabs_test - unexpected error: %v", err)
		}
		got = ids
	})
	if calls != 1 {
		t.Fatalf("tabs:tabs_test - callback invoked %d times, want 1", calls)
	}
	if !reflect.DeepEqual(got, []int{3, 7}) {
		t.Errorf("tabs:tabs_test - ids = %v", got)
	}
}

func TestStoreEnumerator_NoStore(t *testing.T) {
	var gotErr error
	StoreEnumerator{}.QueryTabs(context.Background(), Filter{}, func(_ []int, err error) {
		gotErr = err
	})
	if !errors.Is(gotErr, ErrNoHost) {
		t.Errorf("tabs:tabs_test - err = %v, want ErrNoHost", gotErr)
	}
}
