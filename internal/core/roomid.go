package core

import "sort"

const (
	// GlobalRoom is the shared room every user can join.
	GlobalRoom = "global"
	// RoomIDSeparator joins the two participant ids of a private room.
	RoomIDSeparator = "_"
)

// ResolveRoomID returns the private room id shared by participants a and b.
// The result does not depend on argument order.
func ResolveRoomID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + RoomIDSeparator + ids[1]
}
