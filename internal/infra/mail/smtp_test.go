package mail

import (
	"strings"
	"testing"
	"time"
)

func TestRenderBody_ContainsCodeAndValidity(t *testing.T) {
	body, minutes, err := renderBody("Axnihao", "042731", 10*time.Minute)
	if err != nil {
		t.Fatalf("renderBody returned error: %v", err)
	}
	if minutes != 10 {
		t.Fatalf("expected 10 minutes, got %d", minutes)
	}
	if !strings.Contains(body, "042731") {
		t.Fatalf("expected body to contain the code")
	}
	if !strings.Contains(body, "10 minutes") {
		t.Fatalf("expected body to mention the validity window")
	}
	if !strings.Contains(body, "Axnihao") {
		t.Fatalf("expected body to mention the sender name")
	}
}

func TestRenderBody_RoundsUpShortWindows(t *testing.T) {
	_, minutes, err := renderBody("Axnihao", "000000", 30*time.Second)
	if err != nil {
		t.Fatalf("renderBody returned error: %v", err)
	}
	if minutes != 1 {
		t.Fatalf("expected sub-minute windows to render as 1 minute, got %d", minutes)
	}
}

func TestRenderBody_EscapesCode(t *testing.T) {
	body, _, err := renderBody("Axnihao", "<script>", time.Minute)
	if err != nil {
		t.Fatalf("renderBody returned error: %v", err)
	}
	if strings.Contains(body, "<script>") {
		t.Fatalf("expected template to escape markup in the code slot")
	}
}
