package images

import (
	"testing"
	"time"
)

func TestObjectName(t *testing.T) {
	if got := objectName(42); got != "avatars/42" {
		t.Errorf("objectName(42) = %q", got)
	}
}

func TestPresignExpiry(t *testing.T) {
	if got := presignExpiry(60); got != time.Minute {
		t.Errorf("presignExpiry(60) = %v", got)
	}
	if got := presignExpiry(0); got != 5*time.Minute {
		t.Errorf("presignExpiry(0) = %v, want default", got)
	}
	if got := presignExpiry(-1); got != 5*time.Minute {
		t.Errorf("presignExpiry(-1) = %v, want default", got)
	}
}
