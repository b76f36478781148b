package sink_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"magnolia/internal/catalog"
	"magnolia/internal/sink"
	"magnolia/internal/testsupport"
)

func TestDispatchCountsFailuresPerSink(t *testing.T) {
	entries := []catalog.Entry{
		testsupport.Entry("/a.txt", 1, ""),
		testsupport.Entry("/b.txt", 1, ""),
		testsupport.Entry("/c.txt", 1, ""),
	}
	ok := &sink.Recorder{}
	flaky := &sink.Recorder{Fail: func(e catalog.Entry) error {
		if e.Path == "/b.txt" {
			return errors.New("boom")
		}
		return nil
	}}

	results := sink.Dispatch(context.Background(), []sink.Ingester{ok, flaky, nil}, entries, sink.Options{})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %+v", results)
	}
	if results[0].Ingested != 3 || results[0].Failed != 0 {
		t.Fatalf("unexpected result %+v", results[0])
	}
	if results[1].Ingested != 2 || results[1].Failed != 1 {
		t.Fatalf("unexpected result %+v", results[1])
	}
	if got := len(flaky.Entries()); got != 2 {
		t.Fatalf("expected 2 recorded entries, got %d", got)
	}
}

type slowSink struct{}

func (slowSink) Name() string { return "slow" }

func (slowSink) Ingest(ctx context.Context, _ catalog.Entry) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatchAppliesPerCallTimeout(t *testing.T) {
	entries := []catalog.Entry{testsupport.Entry("/a", 1, ""), testsupport.Entry("/b", 1, "")}
	start := time.Now()
	results := sink.Dispatch(context.Background(), []sink.Ingester{slowSink{}}, entries, sink.Options{Timeout: 20 * time.Millisecond})
	if results[0].Failed != 2 {
		t.Fatalf("expected both calls to time out, got %+v", results[0])
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("dispatch took too long: %v", elapsed)
	}
}

func TestDispatchStopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &sink.Recorder{}
	results := sink.Dispatch(ctx, []sink.Ingester{rec}, []catalog.Entry{testsupport.Entry("/a", 1, "")}, sink.Options{})
	if results[0].Ingested != 0 || len(rec.Entries()) != 0 {
		t.Fatalf("expected nothing ingested, got %+v", results[0])
	}
}

func TestFileType(t *testing.T) {
	tests := []struct {
		entry catalog.Entry
		want  string
	}{
		{testsupport.Entry("/x/photo.jpeg", 1, "", testsupport.ContentType("image/png")), "png"},
		{testsupport.Entry("/x/notes.md", 1, ""), "md"},
		{testsupport.Entry("/x/blob", 1, "", testsupport.ContentType("application/x-made-up")), ""},
	}
	for _, tt := range tests {
		if got := sink.FileType(tt.entry); got != tt.want {
			t.Errorf("FileType(%s) = %q, want %q", tt.entry.Path, got, tt.want)
		}
	}
}
