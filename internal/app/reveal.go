package app

import "live-quiz-service/internal/domain"

// RevealSequencer is the policy over Game.ShownChoiceIndex: choices are
// disclosed one at a time and answering opens only once all are visible.
type RevealSequencer struct{}

// Next returns the index to show after shown, or ErrInvalidTransition when the
// last choice is already visible.
func (RevealSequencer) Next(shown *int, choices int) (int, error) {
	if shown == nil {
		if choices == 0 {
			return 0, domain.ErrInvalidTransition
		}
		return 0, nil
	}
	if *shown >= choices-1 {
		return *shown, domain.ErrInvalidTransition
	}
	return *shown + 1, nil
}

// Answerable reports whether every choice is visible. A nil index means no
// choice is shown yet, which is different from index 0.
func (RevealSequencer) Answerable(shown *int, choices int) bool {
	return shown != nil && *shown >= choices-1
}

// Visible returns how many choices the clients may render.
func (RevealSequencer) Visible(shown *int, choices int) int {
	if shown == nil {
		return 0
	}
	if *shown+1 > choices {
		return choices
	}
	return *shown + 1
}
