// internal/services/session_service_test.go
package services

import "testing"

func TestGetOrCreate(t *testing.T) {
	svc := NewSessionService()

	if got := svc.GetOrCreate("existing"); got != "existing" {
		t.Errorf("非空会话ID应原样返回，实际: %s", got)
	}

	first := svc.GetOrCreate("")
	second := svc.GetOrCreate("  ")

	if first == "" || second == "" {
		t.Fatalf("空会话ID应生成新标识")
	}
	if first == second {
		t.Errorf("两次生成的会话ID不应相同")
	}
	for _, id := range []string{first, second} {
		for _, ch := range id {
			if ch == '-' {
				t.Errorf("会话ID不应包含连字符: %s", id)
			}
		}
	}
}
