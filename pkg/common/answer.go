package common

// Answer is the output contract of the answer stage.
type Answer struct {
	ShortAnswer   string   `json:"short_answer"`
	SupportingIDs []string `json:"supporting_ids"`
}
