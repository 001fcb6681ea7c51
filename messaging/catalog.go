// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

// Stream event kinds the client understands. EventPosted is the only
// kind with dedicated routing; EventTyping gets a narrow semantic
// translation; the rest are administrative notices acknowledged via
// the generic raw-event emission. The catalog is mechanical but must
// be complete: an inbound kind not listed here is treated as a
// protocol violation, on the theory that an unknown kind means the
// server has moved past the client's understanding of the protocol.
const (
	EventHello  = "hello"
	EventPosted = "posted"
	EventTyping = "typing"

	EventPostEdited  = "post_edited"
	EventPostDeleted = "post_deleted"
	EventPostUnread  = "post_unread"

	EventChannelConverted     = "channel_converted"
	EventChannelCreated       = "channel_created"
	EventChannelDeleted       = "channel_deleted"
	EventChannelRestored      = "channel_restored"
	EventChannelUpdated       = "channel_updated"
	EventChannelMemberUpdated = "channel_member_updated"
	EventChannelViewed        = "channel_viewed"
	EventDirectAdded          = "direct_added"
	EventGroupAdded           = "group_added"

	EventAddedToTeam = "added_to_team"
	EventLeaveTeam   = "leave_team"
	EventUpdateTeam  = "update_team"
	EventDeleteTeam  = "delete_team"
	EventRestoreTeam = "restore_team"

	EventNewUser         = "new_user"
	EventUserAdded       = "user_added"
	EventUserUpdated     = "user_updated"
	EventUserRemoved     = "user_removed"
	EventUserRoleUpdated = "user_role_updated"
	EventMemberRole      = "memberrole_updated"

	EventPreferenceChanged  = "preference_changed"
	EventPreferencesChanged = "preferences_changed"
	EventPreferencesDeleted = "preferences_deleted"

	EventReactionAdded   = "reaction_added"
	EventReactionRemoved = "reaction_removed"
	EventEmojiAdded      = "emoji_added"

	EventEphemeralMessage = "ephemeral_message"
	EventStatusChange     = "status_change"
	EventResponse         = "response"
	EventAuthChallenge    = "authentication_challenge"

	EventRoleUpdated    = "role_updated"
	EventLicenseChanged = "license_changed"
	EventConfigChanged  = "config_changed"
	EventOpenDialog     = "open_dialog"

	EventPluginStatusesChanged = "plugin_statuses_changed"
	EventPluginEnabled         = "plugin_enabled"
	EventPluginDisabled        = "plugin_disabled"

	EventThreadUpdated       = "thread_updated"
	EventThreadFollowChanged = "thread_follow_changed"
	EventThreadReadChanged   = "thread_read_changed"

	EventSidebarCategoryCreated      = "sidebar_category_created"
	EventSidebarCategoryUpdated      = "sidebar_category_updated"
	EventSidebarCategoryDeleted      = "sidebar_category_deleted"
	EventSidebarCategoryOrderUpdated = "sidebar_category_order_updated"
)

// knownEvents is the acceptance set for the classifier. Kinds listed
// here but not specially handled are delivered only through the
// generic raw-event emission.
var knownEvents = map[string]struct{}{
	EventHello:  {},
	EventPosted: {},
	EventTyping: {},

	EventPostEdited:  {},
	EventPostDeleted: {},
	EventPostUnread:  {},

	EventChannelConverted:     {},
	EventChannelCreated:       {},
	EventChannelDeleted:       {},
	EventChannelRestored:      {},
	EventChannelUpdated:       {},
	EventChannelMemberUpdated: {},
	EventChannelViewed:        {},
	EventDirectAdded:          {},
	EventGroupAdded:           {},

	EventAddedToTeam: {},
	EventLeaveTeam:   {},
	EventUpdateTeam:  {},
	EventDeleteTeam:  {},
	EventRestoreTeam: {},

	EventNewUser:         {},
	EventUserAdded:       {},
	EventUserUpdated:     {},
	EventUserRemoved:     {},
	EventUserRoleUpdated: {},
	EventMemberRole:      {},

	EventPreferenceChanged:  {},
	EventPreferencesChanged: {},
	EventPreferencesDeleted: {},

	EventReactionAdded:   {},
	EventReactionRemoved: {},
	EventEmojiAdded:      {},

	EventEphemeralMessage: {},
	EventStatusChange:     {},
	EventResponse:         {},
	EventAuthChallenge:    {},

	EventRoleUpdated:    {},
	EventLicenseChanged: {},
	EventConfigChanged:  {},
	EventOpenDialog:     {},

	EventPluginStatusesChanged: {},
	EventPluginEnabled:         {},
	EventPluginDisabled:        {},

	EventThreadUpdated:       {},
	EventThreadFollowChanged: {},
	EventThreadReadChanged:   {},

	EventSidebarCategoryCreated:      {},
	EventSidebarCategoryUpdated:      {},
	EventSidebarCategoryDeleted:      {},
	EventSidebarCategoryOrderUpdated: {},
}
