package registry

import (
	"strings"
	"testing"
	"time"
)

func TestAddAndGet(t *testing.T) {
	r := New(0)
	req, err := r.Add("req-1", "gpt-4", true, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Status != StatusPending {
		t.Fatalf("expected pending status, got %v", req.Status)
	}

	got, ok := r.Get("req-1")
	if !ok || got != req {
		t.Fatalf("expected Get to return the tracked request")
	}
}

func TestAddRejectsOverMaxConcurrent(t *testing.T) {
	r := New(1)
	if _, err := r.Add("req-1", "gpt-4", true, 1); err != nil {
		t.Fatalf("unexpected error on first add: %v", err)
	}
	if _, err := r.Add("req-2", "gpt-4", true, 1); err != ErrTooManyConcurrentRequests {
		t.Fatalf("expected ErrTooManyConcurrentRequests, got %v", err)
	}
}

func TestCompleteClosesChannelAndStopsTracking(t *testing.T) {
	r := New(0)
	req, _ := r.Add("req-1", "gpt-4", true, 1)
	r.Complete("req-1")

	if _, ok := r.Get("req-1"); ok {
		t.Fatal("expected request to be untracked after Complete")
	}
	if _, open := <-req.Responses; open {
		t.Fatal("expected Responses channel closed after Complete")
	}
}

func TestTimeoutDeliversMessageAndCloses(t *testing.T) {
	r := New(0)
	req, _ := r.Add("req-1", "gpt-4", true, 1)
	r.Timeout("req-1", "timed out")

	msg, open := <-req.Responses
	if msg != "timed out" {
		t.Fatalf("expected timeout message delivered, got %q (open=%v)", msg, open)
	}
	if _, open := <-req.Responses; open {
		t.Fatal("expected Responses channel closed after Timeout")
	}
}

func TestPendingOnlyIncludesSentOrProcessing(t *testing.T) {
	r := New(0)
	r.Add("req-1", "gpt-4", true, 1)
	r.Add("req-2", "gpt-4", true, 1)
	r.MarkSentToBrowser("req-1")

	pending := r.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(pending))
	}
	if _, ok := pending["req-1"]; !ok {
		t.Fatalf("expected req-1 to be pending, got %+v", pending)
	}
}

func TestRebindRestoresMatchingIDsOnly(t *testing.T) {
	r := New(0)
	r.Add("req-1", "gpt-4", true, 1)
	r.MarkSentToBrowser("req-1")

	restored := r.Rebind([]string{"req-1", "req-nonexistent"})
	if restored != 1 {
		t.Fatalf("expected 1 restored request, got %d", restored)
	}

	req, _ := r.Get("req-1")
	if req.Status != StatusProcessing {
		t.Fatalf("expected req-1 transitioned to processing, got %v", req.Status)
	}
}

func TestHandleDisconnectDuringShutdownTimesOutImmediately(t *testing.T) {
	r := New(0)
	req, _ := r.Add("req-1", "gpt-4", true, 1)
	r.MarkSentToBrowser("req-1")

	r.HandleDisconnect(true, time.Hour)

	if _, ok := r.Get("req-1"); ok {
		t.Fatal("expected request untracked after shutdown disconnect handling")
	}
	msg, open := <-req.Responses
	if !open || !strings.Contains(msg, "shutting down") {
		t.Fatalf("expected the shutdown error delivered immediately, got %q (open=%v)", msg, open)
	}
	if _, open := <-req.Responses; open {
		t.Fatal("expected Responses channel closed immediately during shutdown")
	}
}

func TestHandleDisconnectSpawnsWatcherThatTimesOutAfterDelay(t *testing.T) {
	r := New(0)
	req, _ := r.Add("req-1", "gpt-4", true, 1)
	r.MarkSentToBrowser("req-1")

	r.HandleDisconnect(false, 20*time.Millisecond)

	if _, ok := r.Get("req-1"); !ok {
		t.Fatal("expected request still tracked immediately after non-shutdown disconnect")
	}

	select {
	case <-req.Responses:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected watcher to time out the request")
	}
	if _, ok := r.Get("req-1"); ok {
		t.Fatal("expected request untracked after watcher timeout")
	}
}

func TestHandleDisconnectWatcherSkipsCompletedRequest(t *testing.T) {
	r := New(0)
	r.Add("req-1", "gpt-4", true, 1)
	r.MarkSentToBrowser("req-1")

	r.HandleDisconnect(false, 20*time.Millisecond)
	r.Complete("req-1")

	time.Sleep(60 * time.Millisecond)
	if _, ok := r.Get("req-1"); ok {
		t.Fatal("request should remain untracked after Complete")
	}
}
