package domain

import (
	"encoding/json"
	"fmt"
)

type CommandType string

const (
	CmdJoinRequest    CommandType = "join:request"
	CmdJoinResolve    CommandType = "join:resolve"
	CmdGuestKick      CommandType = "guest:kick"
	CmdGuestPromote   CommandType = "guest:promote"
	CmdGuestDemote    CommandType = "guest:demote"
	CmdPermissionSet  CommandType = "permission:set"
	CmdPlaybackEvent  CommandType = "playback:event"
	CmdRequestSubmit  CommandType = "request:submit"
	CmdRequestApprove CommandType = "request:approve"
	CmdRequestDismiss CommandType = "request:dismiss"
	CmdSyncReport     CommandType = "sync:report"
	CmdChatSend       CommandType = "chat:send"
	CmdChatHistory    CommandType = "chat:history"
)

// Command is one inbound message variant.
type Command interface {
	CommandType() CommandType
}

type JoinRequest struct {
	Username string `json:"username"`
}

type JoinResolve struct {
	GuestID GuestID `json:"guest_id"`
	Accept  bool    `json:"accept"`
}

type GuestKick struct {
	TargetID GuestID `json:"target_id"`
}

type GuestPromote struct {
	TargetID GuestID `json:"target_id"`
}

type GuestDemote struct {
	TargetID GuestID `json:"target_id"`
}

type PermissionSet struct {
	TargetID GuestID       `json:"target_id"`
	Key      PermissionKey `json:"key"`
	Value    bool          `json:"value"`
}

type PlaybackEvent struct {
	Kind    PlaybackKind `json:"kind"`
	Payload struct {
		Timestamp *float64 `json:"timestamp,omitempty"`
		VideoID   string   `json:"video_id,omitempty"`
	} `json:"payload"`
}

// Command converts the wire form into a PlaybackCommand.
func (e PlaybackEvent) Command() PlaybackCommand {
	return PlaybackCommand{Kind: e.Kind, Position: e.Payload.Timestamp, VideoID: e.Payload.VideoID}
}

type RequestSubmit struct {
	Type    RequestType `json:"type"`
	Payload struct {
		Seconds float64 `json:"seconds,omitempty"`
		Message string  `json:"message,omitempty"`
	} `json:"payload"`
}

func (s RequestSubmit) Input() RequestInput {
	return RequestInput{Type: s.Type, Seconds: s.Payload.Seconds, Message: s.Payload.Message}
}

type RequestApprove struct {
	RequestID RequestID `json:"request_id"`
}

type RequestDismiss struct {
	RequestID RequestID `json:"request_id"`
}

type SyncReport FollowerReport

type ChatSend ChatInput

type ChatHistory struct {
	Limit int `json:"limit,omitempty"`
}

func (JoinRequest) CommandType() CommandType    { return CmdJoinRequest }
func (JoinResolve) CommandType() CommandType    { return CmdJoinResolve }
func (GuestKick) CommandType() CommandType      { return CmdGuestKick }
func (GuestPromote) CommandType() CommandType   { return CmdGuestPromote }
func (GuestDemote) CommandType() CommandType    { return CmdGuestDemote }
func (PermissionSet) CommandType() CommandType  { return CmdPermissionSet }
func (PlaybackEvent) CommandType() CommandType  { return CmdPlaybackEvent }
func (RequestSubmit) CommandType() CommandType  { return CmdRequestSubmit }
func (RequestApprove) CommandType() CommandType { return CmdRequestApprove }
func (RequestDismiss) CommandType() CommandType { return CmdRequestDismiss }
func (SyncReport) CommandType() CommandType     { return CmdSyncReport }
func (ChatSend) CommandType() CommandType       { return CmdChatSend }
func (ChatHistory) CommandType() CommandType    { return CmdChatHistory }

// Inbound is the wire envelope of a command.
type Inbound struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var commandDecoders = map[CommandType]func(json.RawMessage) (Command, error){
	CmdJoinRequest:    decodeAs[JoinRequest],
	CmdJoinResolve:    decodeAs[JoinResolve],
	CmdGuestKick:      decodeAs[GuestKick],
	CmdGuestPromote:   decodeAs[GuestPromote],
	CmdGuestDemote:    decodeAs[GuestDemote],
	CmdPermissionSet:  decodeAs[PermissionSet],
	CmdPlaybackEvent:  decodeAs[PlaybackEvent],
	CmdRequestSubmit:  decodeAs[RequestSubmit],
	CmdRequestApprove: decodeAs[RequestApprove],
	CmdRequestDismiss: decodeAs[RequestDismiss],
	CmdSyncReport:     decodeAs[SyncReport],
	CmdChatSend:       decodeAs[ChatSend],
	CmdChatHistory:    decodeAs[ChatHistory],
}

func decodeAs[T Command](raw json.RawMessage) (Command, error) {
	var cmd T
	if len(raw) == 0 {
		return cmd, nil
	}
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// DecodeCommand parses an inbound envelope. Unknown types fail with
// ErrUnknownCommand, malformed payloads with an InvalidInput error.
func DecodeCommand(data []byte) (Command, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, InvalidInput(fmt.Errorf("malformed envelope: %w", err))
	}
	decode, ok := commandDecoders[in.Type]
	if !ok {
		return nil, ErrUnknownCommand.WithContext("type", string(in.Type))
	}
	cmd, err := decode(in.Payload)
	if err != nil {
		return nil, InvalidInput(fmt.Errorf("malformed %s payload: %w", in.Type, err))
	}
	return cmd, nil
}
