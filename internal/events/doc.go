// Package events fans out in-process notifications to HTTP streaming
// clients. Session changes are published per user; list changes are
// published on a single topic and filtered by the reader.
package events
