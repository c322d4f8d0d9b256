// Package port checks the fixed host ports a project publishes against the
// host before containers are created.
//
// A port that is already bound by another process makes the runtime reject
// the container only after the create call. Probing with net.Listen first
// lets up warn about every conflict in one pass.
package port
