package internal

import (
	"crypto/rand"
)

// MeetingID returns a random 12-character meeting identifier.
func MeetingID() string {
	return rand.Text()[:12]
}

// GenerateUniqueMeetingID keeps drawing ids until isUnique accepts one.
func GenerateUniqueMeetingID(isUnique func(id string) bool) string {
	id := MeetingID()
	for !isUnique(id) {
		id = MeetingID()
	}
	return id
}
