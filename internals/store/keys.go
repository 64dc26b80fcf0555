package store

import "fmt"

const (
	KeyPrefixSession   = "session:"
	KeyPrefixVideoRoom = "videoroom:"
	KeyPrefixChatRoom  = "chatroom:"
	KeyPrefixUser      = "user:"
)

func SessionKey(sessionID string) string {
	return fmt.Sprintf("%s%s", KeyPrefixSession, sessionID)
}

func VideoRoomKey(roomID string) string {
	return fmt.Sprintf("%s%s", KeyPrefixVideoRoom, roomID)
}

// VideoRoomBySessionKey indexes the single video room of a session.
func VideoRoomBySessionKey(sessionID string) string {
	return fmt.Sprintf("%s%s:videoroom", KeyPrefixSession, sessionID)
}

func ChatRoomKey(roomID string) string {
	return fmt.Sprintf("%s%s", KeyPrefixChatRoom, roomID)
}

func ChatMessagesKey(roomID string) string {
	return fmt.Sprintf("%s%s:messages", KeyPrefixChatRoom, roomID)
}

func UserChatRoomsKey(userID string) string {
	return fmt.Sprintf("%s%s:chatrooms", KeyPrefixUser, userID)
}
