package prepare

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewJobRequest(t *testing.T) {
	req := NewJobRequest([]byte("code"), ExecutorParams{}, 2*time.Second, KindLenient)
	if err := req.Validate(); err != nil {
		t.Fatalf("fresh request must validate: %v", err)
	}
	if req.Timeout() != 2*time.Second {
		t.Fatalf("timeout = %v", req.Timeout())
	}
	if _, err := uuid.Parse(req.ID); err != nil {
		t.Fatalf("id %q is not a uuid: %v", req.ID, err)
	}
	if other := NewJobRequest(nil, ExecutorParams{}, time.Second, KindPrecheck); other.ID == req.ID {
		t.Fatal("ids must be unique")
	}
}
