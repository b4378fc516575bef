// Package protocol defines the JSON wire messages exchanged between a room
// synchronization client and the relay server.
//
// Every message on the wire is a JSON object carrying a "type" discriminator.
// The package models the full message table as a closed set of concrete
// structs implementing the sealed [Message] interface, so that the single
// decode point ([Decode]) yields a typed value and message handling can use
// exhaustive type switches instead of ad-hoc map lookups.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the wire discriminator carried in every message's "type" field.
type Type string

// Wire message types. Direction is noted per constant; several types flow
// both ways because the relay echoes client broadcasts to all room members.
const (
	TypeJoin              Type = "join"
	TypeHeartbeat         Type = "heartbeat"
	TypeButtonPressed     Type = "buttonPressed"
	TypeButtonReleased    Type = "buttonReleased"
	TypeCaption           Type = "caption"
	TypeLiveSTT           Type = "liveSTT"
	TypeLiveTextContent   Type = "liveTextContent"
	TypeLiveTextingStatus Type = "liveTextingStatus"
	TypeTextMessage       Type = "text_message"
	TypeRoomState         Type = "roomState"
	TypeParticipantJoined Type = "participantJoined"
	TypeParticipantLeft   Type = "participantLeft"
	TypeSpeakerChanged    Type = "speakerChanged"
	TypeSpeakerStopped    Type = "speakerStopped"
	TypeJoinRequest       Type = "joinRequest"
	TypeAwaitingApproval  Type = "awaitingApproval"
	TypeJoinApproved      Type = "joinApproved"
	TypeJoinDeclined      Type = "joinDeclined"
	TypeJoinCancelled     Type = "joinCancelled"
	TypeJoinDenied        Type = "joinDenied"
	TypeCheckRoom         Type = "checkRoom"
	TypeRoomStatus        Type = "roomStatus"
	TypeApproveJoin       Type = "approveJoin"
	TypeDeclineJoin       Type = "declineJoin"
	TypeCancelJoin        Type = "cancelJoin"
	TypeRemoveParticipant Type = "removeParticipant"
)

// ErrUnknownType is returned by [Decode] for a message whose "type" field is
// not part of the protocol. Callers should log and ignore such messages so
// that protocol additions on the server never break older clients.
var ErrUnknownType = errors.New("protocol: unknown message type")

// Message is the sealed interface implemented by every wire message struct.
// Only types in this package satisfy it.
type Message interface {
	// MsgType returns the wire discriminator for this message.
	MsgType() Type

	sealed()
}

// Join is the client's request to enter a room. DeviceID is the stable
// per-device identifier that survives reconnects.
type Join struct {
	DeviceID    string `json:"deviceId"`
	DisplayName string `json:"displayName"`
}

// Heartbeat is the once-per-second liveness and state-resync message. It
// carries the sender's full speaking/typing snapshot so peers can repair any
// missed event-based update.
type Heartbeat struct {
	ParticipantID string `json:"participantId"`
	IsPressed     bool   `json:"isPressed"`
	CurrentText   string `json:"currentText"`
	IsTexting     bool   `json:"isTexting"`
}

// ButtonPressed announces that a participant started speaking.
type ButtonPressed struct {
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
}

// ButtonReleased announces that a participant stopped speaking.
type ButtonReleased struct {
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
}

// Caption carries a transcript fragment. MessageID is stable across interim
// updates of the same speaking session, so receivers apply captions as an
// upsert keyed by ID.
type Caption struct {
	MessageID       string `json:"messageId"`
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
	Text            string `json:"text"`
	IsFinal         bool   `json:"isFinal"`
	Timestamp       int64  `json:"timestamp,omitempty"`
}

// LiveSTT carries in-progress speech text for a participant.
type LiveSTT struct {
	ParticipantID string `json:"participantId"`
	Text          string `json:"text"`
}

// LiveTextContent carries in-progress typed text for a participant.
type LiveTextContent struct {
	ParticipantID string `json:"participantId"`
	Text          string `json:"text"`
}

// LiveTextingStatus announces that a participant started or stopped typing.
type LiveTextingStatus struct {
	ParticipantID string `json:"participantId"`
	IsTexting     bool   `json:"isTexting"`
}

// TextMessage is a typed (rather than spoken) message. It is final
// immediately and has no interim phase.
type TextMessage struct {
	MessageID       string `json:"messageId"`
	Text            string `json:"text"`
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
}

// ParticipantInfo identifies one room member in a [RoomState] push.
type ParticipantInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoomState is the server's authoritative snapshot of room membership.
// Modern servers send the structured participant sets; legacy servers send a
// flat participant list. Use [RoomState.Active] to read either form.
type RoomState struct {
	Participants   roomParticipants `json:"participants"`
	ConcurrentMode bool             `json:"concurrentMode"`
	ActiveSpeaker  string           `json:"activeSpeaker,omitempty"`
}

// roomParticipants accepts both the structured object form and the legacy
// flat array form of the participants field.
type roomParticipants struct {
	Active   []ParticipantInfo
	TimedOut []ParticipantInfo
	Declined []ParticipantInfo
}

func (p *roomParticipants) UnmarshalJSON(data []byte) error {
	// Legacy form: a flat array of participants, all considered active.
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &p.Active)
	}
	var obj struct {
		Active   []ParticipantInfo `json:"active"`
		TimedOut []ParticipantInfo `json:"timedOut"`
		Declined []ParticipantInfo `json:"declined"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	p.Active = obj.Active
	p.TimedOut = obj.TimedOut
	p.Declined = obj.Declined
	return nil
}

func (p roomParticipants) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Active   []ParticipantInfo `json:"active"`
		TimedOut []ParticipantInfo `json:"timedOut"`
		Declined []ParticipantInfo `json:"declined"`
	}{p.Active, p.TimedOut, p.Declined})
}

// NewRoomState builds a room state push with the given participant sets.
func NewRoomState(active, timedOut []ParticipantInfo, concurrentMode bool) *RoomState {
	return &RoomState{
		Participants:   roomParticipants{Active: active, TimedOut: timedOut},
		ConcurrentMode: concurrentMode,
	}
}

// Active returns the active participant set regardless of which wire form
// the server used.
func (m *RoomState) Active() []ParticipantInfo { return m.Participants.Active }

// TimedOut returns participants the server considers heartbeat-stale.
func (m *RoomState) TimedOut() []ParticipantInfo { return m.Participants.TimedOut }

// Declined returns participants whose join was declined.
func (m *RoomState) Declined() []ParticipantInfo { return m.Participants.Declined }

// ParticipantJoined announces a new room member.
type ParticipantJoined struct {
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
}

// ParticipantLeft announces a departed room member.
type ParticipantLeft struct {
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
}

// SpeakerChanged is the server's notification that the active speaker changed.
type SpeakerChanged struct {
	SpeakerID   string `json:"speakerId"`
	SpeakerName string `json:"speakerName"`
	Action      string `json:"action"`
}

// SpeakerStopped is the server's notification that the active speaker stopped.
type SpeakerStopped struct {
	SpeakerID   string `json:"speakerId"`
	SpeakerName string `json:"speakerName"`
	Action      string `json:"action"`
}

// JoinRequest asks the occupant to approve or decline a remote joiner.
type JoinRequest struct {
	RequesterID   string `json:"requesterId"`
	RequesterName string `json:"requesterName"`
}

// AwaitingApproval tells the joiner their request is pending occupant review.
type AwaitingApproval struct {
	Message string `json:"message"`
}

// JoinApproved tells the joiner their request was approved.
type JoinApproved struct {
	ApproverName string `json:"approverName,omitempty"`
}

// JoinDeclined tells the joiner their request was declined.
type JoinDeclined struct {
	DeclinerName string `json:"declinerName,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// JoinCancelled confirms the joiner withdrew their pending request.
type JoinCancelled struct{}

// JoinDenied is a hard rejection (for example, a blocked device).
type JoinDenied struct {
	Reason string `json:"reason"`
}

// CheckRoom probes a room's occupancy before deciding how to join it.
type CheckRoom struct{}

// RoomStatus is the server's answer to [CheckRoom].
type RoomStatus struct {
	ParticipantCount int  `json:"participantCount"`
	IsEmpty          bool `json:"isEmpty"`
}

// ApproveJoin approves a pending remote join request.
type ApproveJoin struct {
	RequesterID string `json:"requesterId"`
}

// DeclineJoin declines a pending remote join request.
type DeclineJoin struct {
	RequesterID string `json:"requesterId"`
}

// CancelJoin withdraws the local pending join request.
type CancelJoin struct{}

// RemoveParticipant evicts a participant from the room.
type RemoveParticipant struct {
	ParticipantID string `json:"participantId"`
}

func (*Join) MsgType() Type              { return TypeJoin }
func (*Heartbeat) MsgType() Type         { return TypeHeartbeat }
func (*ButtonPressed) MsgType() Type     { return TypeButtonPressed }
func (*ButtonReleased) MsgType() Type    { return TypeButtonReleased }
func (*Caption) MsgType() Type           { return TypeCaption }
func (*LiveSTT) MsgType() Type           { return TypeLiveSTT }
func (*LiveTextContent) MsgType() Type   { return TypeLiveTextContent }
func (*LiveTextingStatus) MsgType() Type { return TypeLiveTextingStatus }
func (*TextMessage) MsgType() Type       { return TypeTextMessage }
func (*RoomState) MsgType() Type         { return TypeRoomState }
func (*ParticipantJoined) MsgType() Type { return TypeParticipantJoined }
func (*ParticipantLeft) MsgType() Type   { return TypeParticipantLeft }
func (*SpeakerChanged) MsgType() Type    { return TypeSpeakerChanged }
func (*SpeakerStopped) MsgType() Type    { return TypeSpeakerStopped }
func (*JoinRequest) MsgType() Type       { return TypeJoinRequest }
func (*AwaitingApproval) MsgType() Type  { return TypeAwaitingApproval }
func (*JoinApproved) MsgType() Type      { return TypeJoinApproved }
func (*JoinDeclined) MsgType() Type      { return TypeJoinDeclined }
func (*JoinCancelled) MsgType() Type     { return TypeJoinCancelled }
func (*JoinDenied) MsgType() Type        { return TypeJoinDenied }
func (*CheckRoom) MsgType() Type         { return TypeCheckRoom }
func (*RoomStatus) MsgType() Type        { return TypeRoomStatus }
func (*ApproveJoin) MsgType() Type       { return TypeApproveJoin }
func (*DeclineJoin) MsgType() Type       { return TypeDeclineJoin }
func (*CancelJoin) MsgType() Type        { return TypeCancelJoin }
func (*RemoveParticipant) MsgType() Type { return TypeRemoveParticipant }

func (*Join) sealed()              {}
func (*Heartbeat) sealed()         {}
func (*ButtonPressed) sealed()     {}
func (*ButtonReleased) sealed()    {}
func (*Caption) sealed()           {}
func (*LiveSTT) sealed()           {}
func (*LiveTextContent) sealed()   {}
func (*LiveTextingStatus) sealed() {}
func (*TextMessage) sealed()       {}
func (*RoomState) sealed()         {}
func (*ParticipantJoined) sealed() {}
func (*ParticipantLeft) sealed()   {}
func (*SpeakerChanged) sealed()    {}
func (*SpeakerStopped) sealed()    {}
func (*JoinRequest) sealed()       {}
func (*AwaitingApproval) sealed()  {}
func (*JoinApproved) sealed()      {}
func (*JoinDeclined) sealed()      {}
func (*JoinCancelled) sealed()     {}
func (*JoinDenied) sealed()        {}
func (*CheckRoom) sealed()         {}
func (*RoomStatus) sealed()        {}
func (*ApproveJoin) sealed()       {}
func (*DeclineJoin) sealed()       {}
func (*CancelJoin) sealed()        {}
func (*RemoveParticipant) sealed() {}

// newByType returns a fresh zero value for the given wire type, or nil for
// an unknown type.
func newByType(t Type) Message {
	switch t {
	case TypeJoin:
		return &Join{}
	case TypeHeartbeat:
		return &Heartbeat{}
	case TypeButtonPressed:
		return &ButtonPressed{}
	case TypeButtonReleased:
		return &ButtonReleased{}
	case TypeCaption:
		return &Caption{}
	case TypeLiveSTT:
		return &LiveSTT{}
	case TypeLiveTextContent:
		return &LiveTextContent{}
	case TypeLiveTextingStatus:
		return &LiveTextingStatus{}
	case TypeTextMessage:
		return &TextMessage{}
	case TypeRoomState:
		return &RoomState{}
	case TypeParticipantJoined:
		return &ParticipantJoined{}
	case TypeParticipantLeft:
		return &ParticipantLeft{}
	case TypeSpeakerChanged:
		return &SpeakerChanged{}
	case TypeSpeakerStopped:
		return &SpeakerStopped{}
	case TypeJoinRequest:
		return &JoinRequest{}
	case TypeAwaitingApproval:
		return &AwaitingApproval{}
	case TypeJoinApproved:
		return &JoinApproved{}
	case TypeJoinDeclined:
		return &JoinDeclined{}
	case TypeJoinCancelled:
		return &JoinCancelled{}
	case TypeJoinDenied:
		return &JoinDenied{}
	case TypeCheckRoom:
		return &CheckRoom{}
	case TypeRoomStatus:
		return &RoomStatus{}
	case TypeApproveJoin:
		return &ApproveJoin{}
	case TypeDeclineJoin:
		return &DeclineJoin{}
	case TypeCancelJoin:
		return &CancelJoin{}
	case TypeRemoveParticipant:
		return &RemoveParticipant{}
	}
	return nil
}

// Decode parses one wire message. It reads the "type" discriminator and
// unmarshals the remaining fields into the matching concrete struct. For a
// type not in the protocol it returns [ErrUnknownType] wrapped with the
// offending discriminator.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	msg := newByType(env.Type)
	if msg == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", env.Type, err)
	}
	return msg, nil
}

// Encode serializes a wire message, injecting the "type" discriminator next
// to the message's own fields.
func Encode(m Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.MsgType(), err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.MsgType(), err)
	}
	if obj == nil {
		obj = make(map[string]json.RawMessage, 1)
	}
	obj["type"], _ = json.Marshal(m.MsgType())
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.MsgType(), err)
	}
	return out, nil
}
