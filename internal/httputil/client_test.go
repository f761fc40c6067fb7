package httputil

import (
	"errors"
	"net/http"
	"testing"
)

func TestMockReplaysResponsesInOrder(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusServiceUnavailable, "busy")
	mock.AddResponse(http.StatusOK, "done")

	req, _ := http.NewRequest(http.MethodGet, "http://example/x", nil)

	resp, err := mock.Do(req)
	if err != nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("first response = %v, %v", resp, err)
	}
	DrainAndClose(resp.Body)

	resp, err = mock.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("second response = %v, %v", resp, err)
	}
	DrainAndClose(resp.Body)

	// Past the end of the queue the last response repeats.
	resp, err = mock.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("repeated response = %v, %v", resp, err)
	}
	DrainAndClose(resp.Body)

	if len(mock.Requests) != 3 {
		t.Errorf("recorded %d requests, want 3", len(mock.Requests))
	}
}

func TestMockErrorResponse(t *testing.T) {
	mock := NewMockHTTPClient()
	wantErr := errors.New("connection reset")
	mock.AddErrorResponse(wantErr)

	req, _ := http.NewRequest(http.MethodGet, "http://example/x", nil)
	if _, err := mock.Do(req); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestMockDefaultsToEmptyOK(t *testing.T) {
	mock := NewMockHTTPClient()
	req, _ := http.NewRequest(http.MethodGet, "http://example/x", nil)

	resp, err := mock.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	DrainAndClose(resp.Body)
}

func TestNewStandardClientNilFallback(t *testing.T) {
	c := NewStandardClient(nil)
	if c.Client != http.DefaultClient {
		t.Error("nil argument should fall back to http.DefaultClient")
	}
}
