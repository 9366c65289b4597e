// Package rule defines the declarative rule model: triggers, condition
// trees, actions, groups, and version history entries.
//
// The variant sets (trigger kinds, condition sources, operators, action
// kinds) are closed. They are expressed as tagged structs with a Type
// discriminator rather than interface hierarchies, so evaluation is a
// switch over a small enum and the JSON wire format stays flat.
package rule
