package model

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// MessageStatus 消息状态
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRetracted MessageStatus = "retracted"
)

// RetractedPlaceholder 撤回后替换的消息正文
const RetractedPlaceholder = "[Pesan ini sudah ditarik]"

// GroupChatPrefix 群聊 chatId 前缀
const GroupChatPrefix = "group_"

// Message 单聊或群聊消息
// 群聊消息的 ToID 就是群的 chatId，Metadata 带 {type: group_message, groupId}
type Message struct {
	ID             string            `json:"id"`
	ChatID         string            `json:"chatId"`
	FromID         string            `json:"fromId"`
	ToID           string            `json:"toId"`
	Body           string            `json:"message"`
	Timestamp      time.Time         `json:"timestamp"`
	Encrypted      bool              `json:"encrypted"`
	Status         MessageStatus     `json:"status"`
	ReplyToID      string            `json:"replyToId,omitempty"`
	ReplyToSender  string            `json:"replyToSender,omitempty"`
	ReplyToMessage string            `json:"replyToMessage,omitempty"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
}

// ReplyRef 回复引用，保存被回复消息的快照
type ReplyRef struct {
	ID      string `json:"replyToId"`
	Sender  string `json:"replyToSender"`
	Message string `json:"replyToMessage"`
}

// DirectChatID 单聊 chatId：两个用户 id 字典序排序后用 "_" 连接
func DirectChatID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// GroupChatID 群聊 chatId
func GroupChatID(groupID string) string {
	return GroupChatPrefix + groupID
}

// GroupIDFromChat 从群聊 chatId 中取回群 id
func GroupIDFromChat(chatID string) (string, bool) {
	if !strings.HasPrefix(chatID, GroupChatPrefix) || len(chatID) == len(GroupChatPrefix) {
		return "", false
	}
	return strings.TrimPrefix(chatID, GroupChatPrefix), true
}

// IsEncryptedBody 消息正文是 JSON 对象且 encrypted 字段为真
func IsEncryptedBody(body string) bool {
	var payload map[string]any
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return false
	}
	switch v := payload["encrypted"].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	case nil:
		return false
	default:
		return true
	}
}
