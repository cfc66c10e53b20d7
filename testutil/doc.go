// Package testutil provides in-memory mock collaborators for testing
// the caches and the synchronizer: a MockSource standing in for the
// durable tab-fact store and a MockNotifier standing in for the remote
// sidebar process. Both support scripted failures and record their
// calls for verification.
package testutil
