// Package storage is the sqlite persistence layer: users (timezone, quiet
// hours), reminders, and the trigger audit log. The scheduling core only
// reads reminders and appends log entries; row writes belong to the API
// surfaces.
package storage
