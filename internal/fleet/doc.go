// Package fleet manages the set of speakers the service controls.
//
// The Registry owns one Entry per configured speaker: its persistent record,
// a protocol client, and a polling Coordinator. Coordinators poll on a fixed
// interval, retain the last-known-good snapshot through outages, and fan
// changes out to subscribers. Hardware identities learned from the speakers
// are persisted through the Repository so zone membership can be interpreted
// immediately after a restart.
package fleet
