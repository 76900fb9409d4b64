package models

// CoffeeValue is the non-numeric break vote. It counts toward quorum but is
// excluded from numeric aggregation.
const CoffeeValue = "coffee"

// CardValues is the fixed planning poker card set.
var CardValues = []string{"1", "2", "3", "5", "8", "13", "20", "40", "100", CoffeeValue}

// ValidCardValue reports whether value belongs to the fixed card set.
func ValidCardValue(value string) bool {
	for _, v := range CardValues {
		if v == value {
			return true
		}
	}
	return false
}

// Vote is one participant's card for one backlog index. Unique per
// (room, username, task index); a resubmission overwrites the prior value.
type Vote struct {
	Username  string `json:"username"`
	TaskIndex int    `json:"task_index"`
	Value     string `json:"value"`
}
