// internal/services/session_service.go
package services

import (
	"strings"

	"github.com/google/uuid"
)

// SessionService 会话标识管理
// 会话ID是不透明字符串：调用方带了就沿用，没带就发一个新的
type SessionService struct{}

// NewSessionService 创建会话服务
func NewSessionService() *SessionService {
	return &SessionService{}
}

// GetOrCreate 非空会话ID原样返回，否则生成新的hex形式标识
func (s *SessionService) GetOrCreate(sessionID string) string {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" {
		return sessionID
	}
	return NewSessionID()
}

// NewSessionID 生成一个新的会话标识（UUID去掉连字符）
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
