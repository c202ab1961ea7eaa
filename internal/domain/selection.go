package domain

// Selection holds the user's current choices for a run.
type Selection struct {
	Exchange  string `json:"exchange"`
	Market    string `json:"market"`
	Timeframe string `json:"timeframe"`
	Strategy  string `json:"strategy"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Missing returns the names of the fields that are still empty.
func (s Selection) Missing() []string {
	var missing []string
	if s.Exchange == "" {
		missing = append(missing, "exchange")
	}
	if s.Market == "" {
		missing = append(missing, "market")
	}
	if s.Timeframe == "" {
		missing = append(missing, "timeframe")
	}
	if s.Strategy == "" {
		missing = append(missing, "strategy")
	}
	if s.StartDate == "" {
		missing = append(missing, "start_date")
	}
	if s.EndDate == "" {
		missing = append(missing, "end_date")
	}
	return missing
}

// IsComplete returns true if every field is set.
func (s Selection) IsComplete() bool {
	return len(s.Missing()) == 0
}

// Options holds the selectable values fetched from the execution service.
type Options struct {
	Exchanges  []string `json:"exchanges"`
	Timeframes []string `json:"timeframes"`
	Strategies []string `json:"strategies"`
	Markets    []string `json:"markets"`
}

// Contains reports whether v is an element of list.
func Contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
