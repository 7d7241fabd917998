package protocol

import (
	"errors"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
)

// Wire error codes.
const (
	CodeRoomNotFound       = "RoomNotFound"
	CodeRoomFull           = "RoomFull"
	CodeAlreadyInRoom      = "AlreadyInRoom"
	CodeNotInRoom          = "NotInRoom"
	CodeInsufficientCoins  = "InsufficientCoins"
	CodeUnauthorized       = "Unauthorized"
	CodeNotEnoughPlayers   = "NotEnoughPlayers"
	CodeAlreadyPlaying     = "AlreadyPlaying"
	CodeNotYourTurn        = "NotYourTurn"
	CodePositionOccupied   = "PositionOccupied"
	CodeGameNotActive      = "GameNotActive"
	CodeInvalidPosition    = "InvalidPosition"
	CodeGameNotFound       = "GameNotFound"
	CodeNotAPlayer         = "NotAPlayer"
	CodeDuplicateRequest   = "DuplicateRequest"
	CodeRequestNotFound    = "RequestNotFound"
	CodeInvalidBetAmount   = "InvalidBetAmount"
	CodeValidation         = "ValidationError"
	CodeUserNotFound       = "UserNotFound"
	CodeNotAuthenticated   = "NotAuthenticated"
	CodeUnknownMessageType = "UnknownMessageType"
	CodeServerBusy         = "ServerBusy"
	CodeInternal           = "Internal"
)

var codes = []struct {
	err  error
	code string
}{
	{models.ErrRoomNotFound, CodeRoomNotFound},
	{models.ErrRoomFull, CodeRoomFull},
	{models.ErrAlreadyInRoom, CodeAlreadyInRoom},
	{models.ErrNotInRoom, CodeNotInRoom},
	{models.ErrInsufficientCoins, CodeInsufficientCoins},
	{models.ErrUnauthorized, CodeUnauthorized},
	{models.ErrNotEnoughPlayers, CodeNotEnoughPlayers},
	{models.ErrAlreadyPlaying, CodeAlreadyPlaying},
	{models.ErrNotYourTurn, CodeNotYourTurn},
	{models.ErrPositionOccupied, CodePositionOccupied},
	{models.ErrGameNotActive, CodeGameNotActive},
	{models.ErrInvalidPosition, CodeInvalidPosition},
	{models.ErrGameNotFound, CodeGameNotFound},
	{models.ErrNotAPlayer, CodeNotAPlayer},
	{models.ErrDuplicateRequest, CodeDuplicateRequest},
	{models.ErrRequestNotFound, CodeRequestNotFound},
	{models.ErrInvalidBetAmount, CodeInvalidBetAmount},
	{models.ErrInvalidRoomData, CodeValidation},
	{models.ErrUserNotFound, CodeUserNotFound},
	{models.ErrNotAuthenticated, CodeNotAuthenticated},
}

// CodeOf maps an error to its wire code. Unrecognised errors are Internal.
func CodeOf(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// NewFailure builds the error reply of type t for err. Internal errors are not described to the client.
func NewFailure(t, requestID string, err error) Failure {
	code := CodeOf(err)
	msg := err.Error()
	if code == CodeInternal {
		msg = "internal server error"
	}
	return Failure{Envelope: Env(t), RequestID: requestID, Error: code, Message: msg}
}
