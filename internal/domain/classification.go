package domain

// Intent is a normalized label describing what kind of task a request
// represents, with the classifier's confidence in the label.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// IntentClassification is the structured result of the classify phase.
type IntentClassification struct {
	PrimaryIntent    Intent   `json:"primary_intent"`
	SecondaryIntents []Intent `json:"secondary_intents,omitempty"`
	Ambiguous        bool     `json:"ambiguous,omitempty"`
}
