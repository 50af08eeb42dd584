// Package protocol defines the JSON event frames exchanged between the
// chat server and its clients, one typed payload per event name.
package protocol

// Client-originated events.
const (
	EventJoin            = "join"
	EventGetGroups       = "get_groups"
	EventGetGroupMembers = "get_group_members"
	EventGetMessages     = "get_messages"
	EventSendMessage     = "send_message"
	EventMarkRead        = "mark_read"
	EventMarkDelivered   = "mark_delivered"
	EventSetStatus       = "set_status"
	EventSetPublicKey    = "set_public_key"
	EventCreateGroup     = "create_group"
	EventAddToGroup      = "add_to_group"
	EventRemoveFromGroup = "remove_from_group"
	EventToggleMute      = "toggle_mute"
	EventLeaveGroup      = "leave_group"
	EventDeleteGroup     = "delete_group"
)

// Server-originated events.
const (
	EventUserList          = "user_list"
	EventGroupList         = "group_list"
	EventGroupMembers      = "group_members"
	EventMessageHistory    = "message_history"
	EventReceiveMessage    = "receive_message"
	EventMessageReadUpdate = "message_read_update"
	EventDeliveryUpdate    = "delivery_update"
	EventError             = "error"
)

// Message content kinds.
const (
	MessageTypeText      = "text"
	MessageTypeEncrypted = "eee"
	MessageTypeSystem    = "system"
)

// Presence as seen by a particular viewer.
const (
	StatusOnline    = "online"
	StatusOffline   = "offline"
	StatusInvisible = "invisible"
)

// set_status arguments.
const (
	VisibilityVisible   = "visible"
	VisibilityInvisible = "invisible"
)

// delivery_update statuses.
const (
	DeliveryQueued    = "queued"
	DeliveryDelivered = "delivered"
)
