package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerdict(t *testing.T) {
	req := func(d time.Duration) benchResult { return benchResult{Duration: d, Status: http.StatusOK} }
	tests := []struct {
		name  string
		total time.Duration
		want  string
	}{
		{"parallel", 1200 * time.Millisecond, VerdictExcellent},
		{"partly parallel", 1800 * time.Millisecond, VerdictGood},
		{"sequential", 3 * time.Second, VerdictPoor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := benchReport{Total: tt.total, Results: []benchResult{req(time.Second), req(900 * time.Millisecond)}}
			assert.Equal(t, tt.want, r.Verdict())
		})
	}

	t.Run("nothing succeeded", func(t *testing.T) {
		r := benchReport{Total: time.Second, Results: []benchResult{{Status: http.StatusBadGateway}}}
		assert.Empty(t, r.Verdict())
	})
}

func TestRunBench(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var seen atomic.Int32
	report := runBench(context.Background(), srv.Client(), srv.URL, map[string]string{"message": "hi"}, 4,
		func(benchResult) { seen.Add(1) })

	require.Len(t, report.Results, 4)
	assert.EqualValues(t, 4, seen.Load())
	assert.Greater(t, peak.Load(), int32(1))
	assert.Equal(t, VerdictExcellent, report.Verdict())

	var out bytes.Buffer
	printReport(&out, report)
	assert.Contains(t, out.String(), "Successful requests: 4/4")
	assert.Contains(t, out.String(), "EXCELLENT")
}
