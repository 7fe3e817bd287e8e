// Package mqtt is the broker connection behind the speaker-state bridge.
//
// Speaker state is mirrored onto retained topics under soundweave/state/ so
// automation consumers see current state the moment they subscribe, and
// commands arrive on soundweave/command/+/+. The client reconnects
// automatically, replays subscriptions when the session returns, and carries
// a retained last-will on soundweave/system/status so a crashed controller
// is distinguishable from a stopped one.
//
// Topic names are always built through the Topics helpers; nothing else in
// the codebase spells a topic string by hand.
package mqtt
