package schema

// Reference entities are read-mostly caches pulled from the remote.
// They have no local mutation path and are never queued for push; they
// exist to resolve rosters and display names while offline.

// Office is a branch/location the roster is organized under.
type Office struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Level is a class level within an office.
type Level struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Student is a roster member of an (office, level) pair.
type Student struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	OfficeID int64  `json:"office_id"`
	LevelID  int64  `json:"level_id"`
}
