package validator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/directory/internal/domain"
)

// observatory replays canned answers, one per call, repeating the last one.
type observatory struct {
	mu      sync.Mutex
	answers []func(w http.ResponseWriter)
	calls   int
	hosts   []string
}

func (o *observatory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	i := min(o.calls, len(o.answers)-1)
	o.calls++
	o.hosts = append(o.hosts, r.URL.Query().Get("host"))
	answer := o.answers[i]
	o.mu.Unlock()
	answer(w)
}

func (o *observatory) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func jsonAnswer(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func newTestRater(endpoint string, sleeps *recordedSleeps) *Rater {
	return NewRater(RaterOptions{
		Endpoint:     endpoint,
		PendingDelay: DelayRange{Min: time.Millisecond, Max: 2 * time.Millisecond},
		ErrorDelay:   DelayRange{Min: 10 * time.Millisecond, Max: 11 * time.Millisecond},
		sleep:        sleeps.sleep,
	})
}

func TestRater_Rate(t *testing.T) {
	pending := jsonAnswer(http.StatusOK, `{"state":"PENDING"}`)
	finished := jsonAnswer(http.StatusOK, `{"state":"FINISHED","grade":"A+","score":115}`)
	v2 := jsonAnswer(http.StatusOK, `{"id":1,"grade":"B","score":70,"error":null}`)
	failed := jsonAnswer(http.StatusOK, `{"state":"FAILED"}`)
	serverError := jsonAnswer(http.StatusBadGateway, `oops`)
	garbage := jsonAnswer(http.StatusOK, `<html>`)
	apiError := jsonAnswer(http.StatusOK, `{"error":"invalid-hostname","grade":null}`)

	tests := []struct {
		name        string
		answers     []func(w http.ResponseWriter)
		want        string
		wantCalls   int
		wantSleeps  int
		errorSleeps int // sleeps drawn from the error range
	}{
		{"finished at once", []func(http.ResponseWriter){finished}, "A+", 1, 0, 0},
		{"v2 answer without state", []func(http.ResponseWriter){v2}, "B", 1, 0, 0},
		{"pending then finished", []func(http.ResponseWriter){pending, pending, finished}, "A+", 3, 2, 0},
		{"server error then finished", []func(http.ResponseWriter){serverError, finished}, "A+", 2, 1, 1},
		{"failed scan then finished", []func(http.ResponseWriter){failed, finished}, "A+", 2, 1, 1},
		{"unparsable then finished", []func(http.ResponseWriter){garbage, finished}, "A+", 2, 1, 1},
		{"never finishes", []func(http.ResponseWriter){pending}, domain.NoRating, DefaultRatingAttempts, DefaultRatingAttempts - 1, 0},
		{"api keeps erroring", []func(http.ResponseWriter){apiError}, domain.NoRating, DefaultRatingAttempts, DefaultRatingAttempts - 1, DefaultRatingAttempts - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &observatory{answers: tt.answers}
			srv := httptest.NewServer(api)
			defer srv.Close()

			sleeps := &recordedSleeps{}
			got := newTestRater(srv.URL+"/api/v2/scan", sleeps).Rate(context.Background(), "https://paste.example.org/sub/")

			if got != tt.want {
				t.Errorf("Rate() = %q, want %q", got, tt.want)
			}
			if api.callCount() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", api.callCount(), tt.wantCalls)
			}
			if len(sleeps.delays) != tt.wantSleeps {
				t.Fatalf("sleeps = %v, want %d", sleeps.delays, tt.wantSleeps)
			}
			errorSleeps := 0
			for _, d := range sleeps.delays {
				if d >= 10*time.Millisecond {
					errorSleeps++
				}
			}
			if errorSleeps != tt.errorSleeps {
				t.Errorf("error range sleeps = %d, want %d (%v)", errorSleeps, tt.errorSleeps, sleeps.delays)
			}
			for _, h := range api.hosts {
				if h != "paste.example.org" {
					t.Errorf("host param = %q, want paste.example.org", h)
				}
			}
		})
	}
}

func TestRater_OversizedResponseIsNotParsed(t *testing.T) {
	big := `{"state":"FINISHED","grade":"A+","padding":"` + strings.Repeat("x", 20<<10) + `"}`
	api := &observatory{answers: []func(http.ResponseWriter){func(w http.ResponseWriter) {
		w.Header().Set("Content-Length", strconv.Itoa(len(big)))
		_, _ = w.Write([]byte(big))
	}}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	sleeps := &recordedSleeps{}
	got := newTestRater(srv.URL, sleeps).Rate(context.Background(), "https://paste.example.org")
	if got != domain.NoRating {
		t.Errorf("Rate() = %q, want %q", got, domain.NoRating)
	}
	if api.callCount() != 1 {
		t.Errorf("calls = %d, want 1", api.callCount())
	}
}

func TestRater_StopsOnCancelledContext(t *testing.T) {
	api := &observatory{answers: []func(http.ResponseWriter){jsonAnswer(http.StatusOK, `{"state":"RUNNING"}`)}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRater(RaterOptions{
		Endpoint: srv.URL,
		sleep: func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		},
	})
	if got := r.Rate(ctx, "https://paste.example.org"); got != domain.NoRating {
		t.Errorf("Rate() = %q, want %q", got, domain.NoRating)
	}
	if api.callCount() != 1 {
		t.Errorf("calls = %d, want 1", api.callCount())
	}
}

func TestDelayRange_Pick(t *testing.T) {
	r := DelayRange{Min: 500 * time.Millisecond, Max: 3 * time.Second}
	for range 100 {
		if d := r.pick(); d < r.Min || d >= r.Max {
			t.Fatalf("pick() = %v, outside [%v, %v)", d, r.Min, r.Max)
		}
	}
	if d := (DelayRange{Min: time.Second}).pick(); d != time.Second {
		t.Errorf("degenerate range pick() = %v, want 1s", d)
	}
}
