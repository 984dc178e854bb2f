package sources

import (
	"context"
	"errors"
	"testing"
)

type stubFetcher struct {
	body   []byte
	status int
	err    error
}

func (s stubFetcher) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	return s.body, s.status, s.err
}

func TestFetchListingStatusMapping(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		err       error
		transient bool
	}{
		{"throttled", 429, nil, true},
		{"server error", 503, nil, true},
		{"not found", 404, nil, false},
		{"gone", 410, nil, false},
		{"transport", 0, errors.New("dial tcp: timeout"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := NewAdapter("bat", stubFetcher{status: tc.status, err: tc.err}, nil)
			_, err := a.FetchListing(context.Background(), "https://x/1")
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want FetchError", err)
			}
			if fe.Transient != tc.transient {
				t.Errorf("transient = %v, want %v", fe.Transient, tc.transient)
			}
		})
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(stubFetcher{status: 200})
	for _, name := range []string{"bat", "carsandbids", "carscom"} {
		a, err := r.Lookup(name)
		if err != nil || a.Name() != name {
			t.Fatalf("lookup %s: %v", name, err)
		}
	}
	if _, err := r.Lookup("craigslist"); err == nil {
		t.Error("expected error for unknown source")
	}
}
