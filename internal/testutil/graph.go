// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/common"
)

const (
	AnchorExit      = "acme-exit-widgets-2020"
	AnchorGadgets   = "acme-enter-gadgets-2021"
	OrphanDecision  = "acme-rename-2023"
	OrphanEvent     = "evt-office-move-2022"
	TransitionIn    = "tr-pilot-to-enter"
	TransitionOut   = "tr-enter-to-scale"
	EventMarginDrop = "evt-margin-drop-2019"
	EventCompetitor = "evt-competitor-entry-2020"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AcmeGraph is a small decision graph with a transition-free anchor,
// a chained anchor and two orphans.
func AcmeGraph() []common.Node {
	return []common.Node{
		common.NewDecision(common.Base{
			ID:        AnchorExit,
			Timestamp: day(2020, time.June, 1),
			Rationale: "Widget margins collapsed after two years of price pressure from low-cost competitors",
			Summary:   "ACME exits the widgets market",
			Tags:      []string{"widgets", "strategy"},
		}, common.DecisionFields{
			DecisionMaker: "ACME board",
			Option:        "exit the widgets market",
			SupportedBy:   []string{EventMarginDrop, EventCompetitor},
			Transitions:   []string{},
		}),
		common.NewEvent(common.Base{
			ID:        EventMarginDrop,
			Timestamp: day(2019, time.November, 15),
			Summary:   "Widget gross margin fell below five percent",
			Tags:      []string{"widgets", "finance"},
		}, common.EventFields{LedTo: []string{AnchorExit}}),
		common.NewEvent(common.Base{
			ID:        EventCompetitor,
			Timestamp: day(2020, time.February, 10),
			Summary:   "A low-cost competitor entered the widgets market",
			Tags:      []string{"widgets", "competition"},
		}, common.EventFields{LedTo: []string{AnchorExit}}),
		common.NewDecision(common.Base{
			ID:        "acme-pilot-gadgets-2020",
			Timestamp: day(2020, time.September, 1),
			Rationale: "Test demand for gadgets with a small pilot",
			Tags:      []string{"gadgets"},
		}, common.DecisionFields{DecisionMaker: "product team", Option: "run a gadgets pilot", Transitions: []string{TransitionIn}}),
		common.NewTransition(common.Base{
			ID:        TransitionIn,
			Timestamp: day(2020, time.December, 1),
			Reason:    "The pilot sold out within weeks",
		}, common.TransitionFields{From: "acme-pilot-gadgets-2020", To: AnchorGadgets, Relation: common.RelationCausal}),
		common.NewDecision(common.Base{
			ID:        AnchorGadgets,
			Timestamp: day(2021, time.March, 1),
			Rationale: "Freed capacity from widgets and a successful pilot justified entering gadgets",
			Summary:   "ACME enters the gadgets market",
			Tags:      []string{"gadgets", "strategy"},
		}, common.DecisionFields{
			DecisionMaker: "ACME board",
			Option:        "enter the gadgets market",
			BasedOn:       []string{"evt-gadget-demand-2021"},
			Transitions:   []string{TransitionIn, TransitionOut},
		}),
		common.NewEvent(common.Base{
			ID:        "evt-gadget-demand-2021",
			Timestamp: day(2021, time.January, 20),
			Summary:   "Gadget demand grew forty percent year over year",
			Tags:      []string{"gadgets"},
		}, common.EventFields{LedTo: []string{AnchorGadgets}}),
		common.NewTransition(common.Base{
			ID:        TransitionOut,
			Timestamp: day(2021, time.October, 1),
			Reason:    "Entry succeeded and the line needed scale",
		}, common.TransitionFields{From: AnchorGadgets, To: "acme-scale-gadgets-2022", Relation: common.RelationChainNext}),
		common.NewDecision(common.Base{
			ID:        "acme-scale-gadgets-2022",
			Timestamp: day(2022, time.February, 1),
			Rationale: "Scale gadget production to a second plant",
			Tags:      []string{"gadgets"},
		}, common.DecisionFields{DecisionMaker: "operations", Option: "open a second plant"}),
		common.NewDecision(common.Base{
			ID:        OrphanDecision,
			Timestamp: day(2023, time.May, 5),
			Rationale: "Rename the company to reflect the gadgets focus",
		}, common.DecisionFields{DecisionMaker: "ACME board", Option: "rename", Transitions: []string{}}),
		common.NewEvent(common.Base{
			ID:        OrphanEvent,
			Timestamp: day(2022, time.August, 8),
			Summary:   "Headquarters moved to a new office",
		}, common.EventFields{LedTo: []string{}}),
	}
}
