// Package protocol defines the JSON messages exchanged over the game websocket.
package protocol

// Client to server message types.
const (
	TypeAuth                    = "auth"
	TypePing                    = "ping"
	TypeCreateRoom              = "create_room"
	TypeJoinRoomRequest         = "join_room_request"
	TypeLeaveRoom               = "leave_room"
	TypeStartGameRequest        = "start_game_request"
	TypeGameStartedAck          = "game_started_ack"
	TypeMove                    = "move"
	TypeMatchmakingJoin         = "matchmaking_join"
	TypeMatchmakingLeave        = "matchmaking_leave"
	TypeInviteToRoom            = "invite_to_room"
	TypeSendChatMessage         = "send_chat_message"
	TypeRequestCurrentGameState = "request_current_game_state"
	TypePlayAgainRequest        = "play_again_request"
	TypePlayAgainResponse       = "play_again_response"
)

// Server to client message types.
const (
	TypeAuthSuccess            = "auth_success"
	TypeAuthError              = "auth_error"
	TypePong                   = "pong"
	TypeError                  = "error"
	TypeCreateRoomSuccess      = "create_room_success"
	TypeCreateRoomError        = "create_room_error"
	TypeJoinRoomSuccess        = "join_room_success"
	TypeJoinRoomError          = "join_room_error"
	TypeRoomParticipantsUpdate = "room_participants_update"
	TypeLeaveRoomSuccess       = "leave_room_success"
	TypeLeaveRoomError         = "leave_room_error"
	TypeStartGameSuccess       = "start_game_success"
	TypeStartGameError         = "start_game_error"
	TypeGameStarted            = "game_started"
	TypeMoveMade               = "move_made"
	TypeMoveError              = "move_error"
	TypeGameOver               = "game_over"
	TypePlayerLeftWin          = "player_left_win"
	TypeGameAbandoned          = "game_abandoned"
	TypeMatchmakingWaiting     = "matchmaking_waiting"
	TypeMatchmakingSuccess     = "matchmaking_success"
	TypeMatchmakingError       = "matchmaking_error"
	TypeMatchmakingLeft        = "matchmaking_left"
	TypeRoomInvitation         = "room_invitation"
	TypeInviteError            = "invite_error"
	TypeChatMessageReceived    = "chat_message_received"
	TypeChatError              = "chat_error"
	TypeReconnectionRoomJoin   = "reconnection_room_join"
	TypeGameReconnection       = "game_reconnection"
	TypeCurrentGameState       = "current_game_state"
	TypePlayAgainRequested     = "play_again_requested"
	TypePlayAgainRejected      = "play_again_rejected"
	TypePlayAgainExpired       = "play_again_expired"
	TypePlayAgainError         = "play_again_error"
	TypeOnlineUsersUpdate      = "online_users_update"
	TypeUserOffline            = "user_offline"
	TypePlayerDisconnected     = "player_disconnected"
	TypePlayerReconnected      = "player_reconnected"
)

// IsDurable reports whether a message of type t must survive the recipient being offline.
func IsDurable(t string) bool {
	switch t {
	case TypeGameStarted, TypeRoomInvitation:
		return true
	}
	return false
}
