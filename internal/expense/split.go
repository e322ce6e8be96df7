package expense

// ItemShare is one participant's slice of a single line item.
type ItemShare struct {
	Name       string  `json:"name"`
	Share      float64 `json:"share"`
	SplitCount int     `json:"split_count"`
}

// ParticipantShare is the amount one participant owes, with a per-item
// breakdown.
type ParticipantShare struct {
	Participant *Participant `json:"participant"`
	Amount      float64      `json:"amount"`
	Items       []ItemShare  `json:"items"`
}

// ComputeShares divides each assigned line item equally among its assignees
// and totals the result per participant. Items assigned to the everyone
// marker are split across all participants; unassigned items contribute
// nothing. The returned slice follows participant order, so the payer
// (order 0) comes first.
func ComputeShares(items []*LineItem, participants []*Participant) []*ParticipantShare {
	shares := make([]*ParticipantShare, 0, len(participants))
	byID := make(map[string]*ParticipantShare, len(participants))
	for _, participant := range participants {
		share := &ParticipantShare{
			Participant: participant,
			Items:       []ItemShare{},
		}
		shares = append(shares, share)
		byID[participant.ID] = share
	}

	for _, item := range items {
		if len(item.AssignedTo) == 0 {
			continue
		}

		var assigned []*ParticipantShare
		if containsEveryone(item.AssignedTo) {
			assigned = shares
		} else {
			for _, id := range item.AssignedTo {
				if share, ok := byID[id]; ok {
					assigned = append(assigned, share)
				}
			}
		}

		if len(assigned) == 0 {
			continue
		}

		perPerson := item.Price / float64(len(assigned))
		for _, share := range assigned {
			share.Amount += perPerson
			share.Items = append(share.Items, ItemShare{
				Name:       item.Name,
				Share:      perPerson,
				SplitCount: len(assigned),
			})
		}
	}

	return shares
}

func containsEveryone(assignedTo []string) bool {
	for _, id := range assignedTo {
		if id == EveryoneMarker {
			return true
		}
	}
	return false
}
