package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestLookupResolvesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/postcodes/E11AA" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":200,"result":{"postcode":"E1 1AA","latitude":51.51,"longitude":-0.06}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	for i := 0; i < 2; i++ {
		loc, err := c.Lookup(context.Background(), " e1 1aa ")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if loc == nil || loc.Latitude != 51.51 || loc.Longitude != -0.06 {
			t.Fatalf("unexpected location: %+v", loc)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one upstream call, got %d", got)
	}
}

func TestLookupFailureReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	loc, err := c.Lookup(context.Background(), "ZZ1 1ZZ")
	if err != nil || loc != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", loc, err)
	}
}

func TestLookupUnknownPostcode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":404,"error":"Postcode not found"}`))
	}))
	defer srv.Close()

	loc, err := New(srv.URL, time.Second).Lookup(context.Background(), "XX9 9XX")
	if err != nil || loc != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", loc, err)
	}
}

func TestLookupEmptyPostcode(t *testing.T) {
	c := New("http://127.0.0.1:0", time.Second)
	if loc, err := c.Lookup(context.Background(), "   "); loc != nil || err != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", loc, err)
	}
}
